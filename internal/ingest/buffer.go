package ingest

import (
	"sort"
	"sync"
	"time"

	"example.com/schcgate/internal/schc"
)

// DeviceSummary describes the fragments buffered for one device.
type DeviceSummary struct {
	DeviceID  string    `json:"deviceId"`
	Fragments int       `json:"fragments"`
	LastSeen  time.Time `json:"lastSeen"`
}

type deviceEntry struct {
	frags []schc.RawFragment
	// base counts fragments ever removed from the front of frags, so a mark
	// handed out by Take keeps pointing at the same fragments.
	base     int
	lastSeen time.Time
}

// Buffer collects raw fragments per device until a caller asks for
// reassembly. It is safe for concurrent use.
type Buffer struct {
	mu      sync.RWMutex
	devices map[string]*deviceEntry
	limit   int
	now     func() time.Time
}

// NewBuffer creates a buffer keeping at most limit fragments per device
// (oldest dropped first). limit <= 0 means unbounded.
func NewBuffer(limit int) *Buffer {
	return &Buffer{devices: make(map[string]*deviceEntry), limit: limit, now: time.Now}
}

// Add appends fragments for a device and returns its new fragment count.
func (b *Buffer) Add(device string, frags ...schc.RawFragment) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.devices[device]
	if !ok {
		e = &deviceEntry{}
		b.devices[device] = e
	}
	e.frags = append(e.frags, frags...)
	if b.limit > 0 && len(e.frags) > b.limit {
		over := len(e.frags) - b.limit
		e.frags = append([]schc.RawFragment(nil), e.frags[over:]...)
		e.base += over
	}
	e.lastSeen = b.now()
	return len(e.frags)
}

// Snapshot returns a copy of the fragments buffered for device.
func (b *Buffer) Snapshot(device string) ([]schc.RawFragment, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.devices[device]
	if !ok {
		return nil, false
	}
	out := make([]schc.RawFragment, len(e.frags))
	copy(out, e.frags)
	return out, true
}

// Take returns a copy of the fragments buffered for device and a mark for
// Release. Fragments added after Take are not covered by the mark.
func (b *Buffer) Take(device string) ([]schc.RawFragment, int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.devices[device]
	if !ok {
		return nil, 0, false
	}
	out := make([]schc.RawFragment, len(e.frags))
	copy(out, e.frags)
	return out, e.base + len(e.frags), true
}

// Release removes the fragments covered by a mark from Take and keeps any
// that arrived later. A device left with no fragments is forgotten. It
// returns the number of fragments still buffered.
func (b *Buffer) Release(device string, mark int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.devices[device]
	if !ok {
		return 0
	}
	n := mark - e.base
	if n <= 0 {
		return len(e.frags)
	}
	if n > len(e.frags) {
		n = len(e.frags)
	}
	e.frags = append([]schc.RawFragment(nil), e.frags[n:]...)
	e.base += n
	if len(e.frags) == 0 {
		delete(b.devices, device)
	}
	return len(e.frags)
}

// Drop forgets a device. It reports whether the device was known.
func (b *Buffer) Drop(device string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.devices[device]
	delete(b.devices, device)
	return ok
}

// Devices lists the buffered devices sorted by id.
func (b *Buffer) Devices() []DeviceSummary {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]DeviceSummary, 0, len(b.devices))
	for id, e := range b.devices {
		out = append(out, DeviceSummary{DeviceID: id, Fragments: len(e.frags), LastSeen: e.lastSeen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
