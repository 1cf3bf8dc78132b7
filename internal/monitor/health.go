// Package monitor tracks the robot feed and the host the process runs on.
package monitor

import (
	"context"
	"sync"
	"time"
)

type FeedStatus string

const (
	FeedHealthy  FeedStatus = "healthy"
	FeedDegraded FeedStatus = "degraded" // connected but no recent frame
	FeedOffline  FeedStatus = "offline"
)

// FeedSnapshot is the robot feed's health as reported to clients.
type FeedSnapshot struct {
	Status         FeedStatus `json:"status"`
	Robots         int        `json:"robots"`
	FramesReceived uint64     `json:"frames_received"`
	FramesRejected uint64     `json:"frames_rejected"`
	LastFrameAt    *time.Time `json:"last_frame_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

// FeedHealth tracks the robot feed. The /robot handler records into it
// while the health loop and /api/health read from it, so every field is
// guarded by mu.
type FeedHealth struct {
	mu                sync.Mutex
	robots            int
	frames            uint64
	rejected          uint64
	lastFrame         time.Time
	lastErr           string
	lastEmittedStatus FeedStatus
	staleAfter        time.Duration
	now               func() time.Time
}

func NewFeedHealth(staleAfter time.Duration) *FeedHealth {
	if staleAfter <= 0 {
		staleAfter = 3 * time.Second
	}
	return &FeedHealth{
		lastEmittedStatus: FeedOffline,
		staleAfter:        staleAfter,
		now:               time.Now,
	}
}

func (h *FeedHealth) RecordConnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.robots++
}

// RecordDisconnect notes a robot stream ending; err may be nil for a clean
// close.
func (h *FeedHealth) RecordDisconnect(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.robots > 0 {
		h.robots--
	}
	if err != nil {
		h.lastErr = err.Error()
	}
}

func (h *FeedHealth) RecordFrame() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames++
	h.lastFrame = h.now()
}

// RecordRejected counts a frame dropped at ingress (oversized, malformed).
func (h *FeedHealth) RecordRejected(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejected++
	if err != nil {
		h.lastErr = err.Error()
	}
}

func (h *FeedHealth) Snapshot() FeedSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// SnapshotAndEmit returns the snapshot and whether its status differs from
// the last one emitted. A change updates the last emitted status.
func (h *FeedHealth) SnapshotAndEmit() (FeedSnapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := h.snapshotLocked()
	changed := snap.Status != h.lastEmittedStatus
	if changed {
		h.lastEmittedStatus = snap.Status
	}
	return snap, changed
}

// snapshotLocked requires h.mu.
func (h *FeedHealth) snapshotLocked() FeedSnapshot {
	snap := FeedSnapshot{
		Status:         h.statusLocked(),
		Robots:         h.robots,
		FramesReceived: h.frames,
		FramesRejected: h.rejected,
		LastError:      h.lastErr,
	}
	if !h.lastFrame.IsZero() {
		t := h.lastFrame
		snap.LastFrameAt = &t
	}
	return snap
}

func (h *FeedHealth) statusLocked() FeedStatus {
	if h.robots == 0 {
		return FeedOffline
	}
	if h.lastFrame.IsZero() || h.now().Sub(h.lastFrame) > h.staleAfter {
		return FeedDegraded
	}
	return FeedHealthy
}

// Run checks the feed every interval and calls emit whenever its status
// changes, until ctx is cancelled.
func (h *FeedHealth) Run(ctx context.Context, interval time.Duration, emit func(FeedSnapshot)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if snap, changed := h.SnapshotAndEmit(); changed {
				emit(snap)
			}
		}
	}
}
