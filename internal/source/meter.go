package source

import (
	"sync"
	"sync/atomic"
	"time"
)

// bitrateWindow is the span of reads the bitrate estimate covers.
const bitrateWindow = 2 * time.Second

// Stats captures connection-level metrics for a source.
type Stats struct {
	BytesReceived int64 `json:"bytesReceived"`
	ReadCount     int64 `json:"readCount"`
	StartedAt     int64 `json:"startedAt"`
	UptimeMs      int64 `json:"uptimeMs"`
}

type readEntry struct {
	ts    time.Time
	bytes int64
}

// Meter counts delivered bytes and estimates the ingest bitrate over a
// 2-second sliding window. Meter is safe for concurrent use.
type Meter struct {
	now       func() time.Time
	startedAt time.Time

	bytesReceived atomic.Int64
	readCount     atomic.Int64

	windowMu sync.Mutex
	window   []readEntry
}

// NewMeter creates a Meter using the wall clock.
func NewMeter() *Meter {
	return newMeter(time.Now)
}

func newMeter(now func() time.Time) *Meter {
	return &Meter{now: now, startedAt: now()}
}

// RecordRead accounts for one delivered chunk of n bytes.
func (m *Meter) RecordRead(n int) {
	m.bytesReceived.Add(int64(n))
	m.readCount.Add(1)

	now := m.now()
	m.windowMu.Lock()
	m.window = append(m.window, readEntry{ts: now, bytes: int64(n)})
	cutoff := now.Add(-bitrateWindow)
	i := 0
	for i < len(m.window) && m.window[i].ts.Before(cutoff) {
		i++
	}
	m.window = m.window[i:]
	m.windowMu.Unlock()
}

// Bitrate returns the ingest rate in bits per second over the window, or 0
// until two reads at distinct times have been recorded.
func (m *Meter) Bitrate() float64 {
	m.windowMu.Lock()
	defer m.windowMu.Unlock()

	if len(m.window) < 2 {
		return 0
	}
	first := m.window[0].ts
	last := m.window[len(m.window)-1].ts
	dur := last.Sub(first).Seconds()
	if dur <= 0 {
		return 0
	}

	var total int64
	for _, e := range m.window {
		total += e.bytes
	}
	return float64(total) * 8 / dur
}

// Stats returns a snapshot of the counters.
func (m *Meter) Stats() Stats {
	return Stats{
		BytesReceived: m.bytesReceived.Load(),
		ReadCount:     m.readCount.Load(),
		StartedAt:     m.startedAt.UnixMilli(),
		UptimeMs:      m.now().Sub(m.startedAt).Milliseconds(),
	}
}
