// Package ingest turns satellite webhook bodies and the JSON records the
// gateway keeps of them into raw fragments for the reassembly engine.
package ingest

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"example.com/schcgate/internal/schc"
)

var (
	ErrNoPackets   = errors.New("no packets in uplink")
	ErrEmptyValue  = errors.New("packet has no value")
	ErrNoTerminal  = errors.New("uplink has no terminal id")
	ErrBadTerminal = errors.New("terminal id may only contain letters, digits, '-' and '_'")
	ErrMissingData = errors.New("record has no raw_data")
)

const devicePrefix = "flex_"

// Packet is one entry of the webhook Packets array.
type Packet struct {
	TerminalID string          `json:"TerminalId"`
	Value      string          `json:"Value"`
	Timestamp  json.RawMessage `json:"Timestamp,omitempty"`
}

// Uplink is a parsed webhook delivery.
type Uplink struct {
	TerminalID string
	Packets    []Packet
}

// DeviceID returns the device id derived from the uplink terminal.
func (u Uplink) DeviceID() string {
	return DeviceID(u.TerminalID)
}

// ParseWebhook decodes a satellite webhook body. The packets live in a JSON
// document embedded as a string in the Data field; bodies without it may
// carry TerminalId and Value at the top level instead.
func ParseWebhook(body []byte) (Uplink, error) {
	var outer struct {
		Data       string `json:"Data"`
		TerminalID string `json:"TerminalId"`
		Value      string `json:"Value"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return Uplink{}, fmt.Errorf("decode webhook: %w", err)
	}
	var up Uplink
	if strings.TrimSpace(outer.Data) != "" {
		var inner struct {
			Packets []Packet `json:"Packets"`
		}
		if err := json.Unmarshal([]byte(outer.Data), &inner); err != nil {
			return Uplink{}, fmt.Errorf("decode webhook Data: %w", err)
		}
		for _, p := range inner.Packets {
			if strings.TrimSpace(p.Value) == "" {
				continue
			}
			up.Packets = append(up.Packets, p)
			if up.TerminalID == "" {
				up.TerminalID = p.TerminalID
			}
		}
	}
	if len(up.Packets) == 0 && strings.TrimSpace(outer.Value) != "" {
		up.Packets = []Packet{{TerminalID: outer.TerminalID, Value: outer.Value}}
	}
	if up.TerminalID == "" {
		up.TerminalID = outer.TerminalID
	}
	if len(up.Packets) == 0 {
		return up, ErrNoPackets
	}
	return up, nil
}

// DeviceID maps a terminal id to the gateway device id: "flex_" plus the
// last eight characters of the terminal id.
func DeviceID(terminalID string) string {
	terminalID = strings.TrimSpace(terminalID)
	if len(terminalID) > 8 {
		terminalID = terminalID[len(terminalID)-8:]
	}
	return devicePrefix + terminalID
}

// ValidTerminalID reports whether id is non-empty and uses only
// [0-9A-Za-z_-]. Device ids derived from it name directories on disk.
func ValidTerminalID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// DecodeValue converts a packet's hex value to wire bytes.
func DecodeValue(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrEmptyValue
	}
	b, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode hex value: %w", err)
	}
	return b, nil
}

// Fragments converts every packet of the uplink. ref names the delivery and
// is suffixed with the packet index when there is more than one packet.
func (u Uplink) Fragments(ref string) ([]schc.RawFragment, error) {
	out := make([]schc.RawFragment, 0, len(u.Packets))
	for i, p := range u.Packets {
		data, err := DecodeValue(p.Value)
		if err != nil {
			return nil, fmt.Errorf("packet %d: %w", i, err)
		}
		r := ref
		if len(u.Packets) > 1 {
			r = fmt.Sprintf("%s#%d", ref, i)
		}
		out = append(out, schc.RawFragment{Data: data, Ref: r})
	}
	return out, nil
}

// Record is the envelope the gateway keeps for each webhook delivery.
type Record struct {
	Source     string          `json:"source"`
	Timestamp  string          `json:"timestamp"`
	TerminalID string          `json:"terminal_id,omitempty"`
	DeviceID   string          `json:"device_id"`
	SensorID   string          `json:"sensor_id,omitempty"`
	RawData    json.RawMessage `json:"raw_data"`
}

// NewRecord wraps a webhook body received at ts.
func NewRecord(body []byte, ts time.Time) (Record, Uplink, error) {
	up, err := ParseWebhook(body)
	if err != nil {
		return Record{}, up, err
	}
	if up.TerminalID == "" {
		return Record{}, up, ErrNoTerminal
	}
	if !ValidTerminalID(up.TerminalID) {
		return Record{}, up, fmt.Errorf("%w: %q", ErrBadTerminal, up.TerminalID)
	}
	rec := Record{
		Source:     "myriota",
		Timestamp:  ts.Format(time.RFC3339Nano),
		TerminalID: up.TerminalID,
		DeviceID:   up.DeviceID(),
		SensorID:   "sensor_generic",
		RawData:    append(json.RawMessage(nil), body...),
	}
	return rec, up, nil
}

// ParseRecord extracts the fragments of a stored record. name identifies the
// record (usually its file name) and becomes part of the provenance.
func ParseRecord(body []byte, name string) ([]schc.RawFragment, error) {
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if len(rec.RawData) == 0 || string(rec.RawData) == "null" {
		return nil, ErrMissingData
	}
	up, err := ParseWebhook(rec.RawData)
	if err != nil {
		return nil, err
	}
	ref := name
	if rec.Timestamp != "" {
		ref = name + "@" + rec.Timestamp
	}
	return up.Fragments(ref)
}
