package common

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Metrics counts reassembly work. It is safe for concurrent use.
type Metrics struct {
	mu            sync.Mutex
	start         time.Time
	end           time.Time
	messages      int64
	totalMessages int64
	verified      int64
	fragments     int64
	bytes         int64
	outcomes      map[string]int64
}

func NewMetrics() *Metrics {
	return &Metrics{outcomes: make(map[string]int64)}
}

func (m *Metrics) Start() {
	m.mu.Lock()
	if m.start.IsZero() {
		m.start = time.Now()
		m.end = time.Time{}
	}
	m.mu.Unlock()
}

func (m *Metrics) Stop() {
	m.mu.Lock()
	if !m.start.IsZero() && m.end.IsZero() {
		m.end = time.Now()
	}
	m.mu.Unlock()
}

// AddResult records one finished message.
func (m *Metrics) AddResult(outcome string, verified bool, fragments, payloadBytes int) {
	m.mu.Lock()
	m.messages++
	if verified {
		m.verified++
	}
	if fragments > 0 {
		m.fragments += int64(fragments)
	}
	if payloadBytes > 0 {
		m.bytes += int64(payloadBytes)
	}
	if outcome != "" {
		if m.outcomes == nil {
			m.outcomes = make(map[string]int64)
		}
		m.outcomes[outcome]++
	}
	m.mu.Unlock()
}

func (m *Metrics) SetTotalMessages(total int64) {
	if total < 0 {
		total = 0
	}
	m.mu.Lock()
	m.totalMessages = total
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcomes := make(map[string]int64, len(m.outcomes))
	for k, v := range m.outcomes {
		outcomes[k] = v
	}
	return MetricsSnapshot{
		Duration:      m.elapsedLocked(),
		Messages:      m.messages,
		TotalMessages: m.totalMessages,
		Verified:      m.verified,
		Fragments:     m.fragments,
		Bytes:         m.bytes,
		Outcomes:      outcomes,
	}
}

func (m *Metrics) elapsedLocked() time.Duration {
	if m.start.IsZero() {
		return 0
	}
	if !m.end.IsZero() {
		return m.end.Sub(m.start)
	}
	return time.Since(m.start)
}

type MetricsSnapshot struct {
	Duration      time.Duration    `json:"duration"`
	Messages      int64            `json:"messages"`
	TotalMessages int64            `json:"totalMessages,omitempty"`
	Verified      int64            `json:"verified"`
	Fragments     int64            `json:"fragments"`
	Bytes         int64            `json:"bytes"`
	Outcomes      map[string]int64 `json:"outcomes"`
}

// Failed is the number of messages that did not verify.
func (s MetricsSnapshot) Failed() int64 {
	return s.Messages - s.Verified
}

func (s MetricsSnapshot) MessagesPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Messages) / s.Duration.Seconds()
}

func (s MetricsSnapshot) Completion() float64 {
	if s.TotalMessages <= 0 {
		return 0
	}
	ratio := float64(s.Messages) / float64(s.TotalMessages)
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

// OutcomeSummary renders the outcome counts as "A=1 B=2" sorted by name.
func (s MetricsSnapshot) OutcomeSummary() string {
	keys := make([]string, 0, len(s.Outcomes))
	for k := range s.Outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, s.Outcomes[k]))
	}
	return strings.Join(parts, " ")
}

func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div := float64(unit)
	exp := 0
	for n := float64(b) / div; n >= unit && exp < 6; n /= unit {
		div *= unit
		exp++
	}
	prefixes := []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
	return fmt.Sprintf("%.2f %s", float64(b)/div, prefixes[exp])
}

func formatProgressLine(s MetricsSnapshot) string {
	if s.TotalMessages > 0 {
		pct := s.Completion() * 100
		if math.IsNaN(pct) || math.IsInf(pct, 0) {
			pct = 0
		}
		return fmt.Sprintf("Progress: %6.2f%% (%d / %d messages, %d verified) %.1f msg/s",
			pct, s.Messages, s.TotalMessages, s.Verified, s.MessagesPerSecond())
	}
	return fmt.Sprintf("Processed: %d messages, %d verified, %s", s.Messages, s.Verified, FormatBytes(s.Bytes))
}

func StartProgressPrinter(w io.Writer, m *Metrics, interval time.Duration) func() {
	if m == nil || w == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastLen := 0
		for {
			select {
			case <-ticker.C:
				line := formatProgressLine(m.Snapshot())
				pad := lastLen - len(line)
				if pad > 0 {
					line += strings.Repeat(" ", pad)
				}
				fmt.Fprintf(w, "\r%s", line)
				lastLen = len(line)
			case <-done:
				if lastLen > 0 {
					fmt.Fprintf(w, "\r%s\r\n", strings.Repeat(" ", lastLen))
				}
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
