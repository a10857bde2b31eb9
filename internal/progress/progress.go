// Package progress accumulates byte counts and per-segment completion from
// concurrently running workers and serves consistent snapshots to callbacks.
package progress

import (
	"sync"
	"time"
)

// Snapshot is one consistent view of a job's progress. SegmentPercent is a
// private copy, safe to hand to external consumers.
type Snapshot struct {
	TotalBytes      int64
	DownloadedBytes int64
	Percent         float64
	SpeedBPS        float64
	SegmentPercent  map[int]float64
}

// Aggregator serializes all updates behind one mutex so interleaved worker
// increments can never corrupt the totals. Speed is a delta of downloaded
// bytes over the last sampling interval, reset on each Sample call.
type Aggregator struct {
	mu              sync.Mutex
	totalBytes      int64
	downloaded      int64
	segments        map[int]float64
	speed           float64
	lastSampleBytes int64
	lastSampleTime  time.Time
}

func NewAggregator(totalBytes int64) *Aggregator {
	return &Aggregator{
		totalBytes:     totalBytes,
		segments:       make(map[int]float64),
		lastSampleTime: time.Now(),
	}
}

func (a *Aggregator) AddBytes(n int64) {
	a.mu.Lock()
	a.downloaded += n
	a.mu.Unlock()
}

func (a *Aggregator) SetSegmentPercent(index int, percent float64) {
	a.mu.Lock()
	a.segments[index] = percent
	a.mu.Unlock()
}

// Sample recomputes the instantaneous speed from the bytes downloaded since
// the previous sample. Meant to be driven by a fixed-interval ticker.
func (a *Aggregator) Sample() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(a.lastSampleTime).Seconds()
	if elapsed <= 0 {
		return
	}
	a.speed = float64(a.downloaded-a.lastSampleBytes) / elapsed
	a.lastSampleBytes = a.downloaded
	a.lastSampleTime = now
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	segments := make(map[int]float64, len(a.segments))
	for k, v := range a.segments {
		segments[k] = v
	}
	percent := 0.0
	if a.totalBytes > 0 {
		percent = min(float64(a.downloaded)/float64(a.totalBytes)*100, 100)
	}
	return Snapshot{
		TotalBytes:      a.totalBytes,
		DownloadedBytes: a.downloaded,
		Percent:         percent,
		SpeedBPS:        a.speed,
		SegmentPercent:  segments,
	}
}
