// Package ratelimiter implements the rate-limiter collaborator of spec §6,
// enforced by the conversation manager before a message ever reaches a
// Supervisor. Storage is in-memory here; a production deployment can
// swap in a shared store behind the same Limiter interface without any
// change to CheckAndRecord's semantics.
package ratelimiter

import (
	"sync"
	"time"

	"github.com/mdesalvo/Morgana-sub001/pkg/model"
)

// Window identifies one of the three configured rate-limit windows.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

func (w Window) duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Config mirrors the Morgana:RateLimiting:* configuration keys (§6). A
// zero threshold disables that window.
type Config struct {
	Enabled           bool
	MaxPerMinute      int64
	MaxPerHour        int64
	MaxPerDay         int64
}

func (c Config) windows() []struct {
	w     Window
	limit int64
} {
	return []struct {
		w     Window
		limit int64
	}{
		{WindowMinute, c.MaxPerMinute},
		{WindowHour, c.MaxPerHour},
		{WindowDay, c.MaxPerDay},
	}
}

// Result is the outcome of CheckAndRecord (§6).
type Result struct {
	Allowed          bool
	ViolatedWindow   Window
	RetryAfterSeconds int64
}

// Limiter is the collaborator interface the conversation manager
// depends on.
type Limiter interface {
	CheckAndRecord(conversationID model.ConversationId) (Result, error)
}

type bucket struct {
	count     int64
	windowEnd time.Time
}

// InMemory is a process-local Limiter keyed by conversation id.
type InMemory struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[model.ConversationId]map[Window]*bucket
	now     func() time.Time
}

// New creates an in-memory rate limiter with the given configuration.
func New(cfg Config) *InMemory {
	return &InMemory{
		cfg:     cfg,
		buckets: make(map[model.ConversationId]map[Window]*bucket),
		now:     time.Now,
	}
}

// CheckAndRecord evaluates every enabled window and, if all are within
// limit, records one more message against each. The first window found
// exceeded is reported; windows are checked in minute→hour→day order.
func (l *InMemory) CheckAndRecord(conversationID model.ConversationId) (Result, error) {
	if !l.cfg.Enabled {
		return Result{Allowed: true}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	perConv, ok := l.buckets[conversationID]
	if !ok {
		perConv = make(map[Window]*bucket)
		l.buckets[conversationID] = perConv
	}

	for _, cw := range l.cfg.windows() {
		if cw.limit <= 0 {
			continue // window disabled
		}
		b, ok := perConv[cw.w]
		if !ok || !b.windowEnd.After(now) {
			b = &bucket{count: 0, windowEnd: now.Add(cw.w.duration())}
			perConv[cw.w] = b
		}
		if b.count >= cw.limit {
			return Result{
				Allowed:           false,
				ViolatedWindow:    cw.w,
				RetryAfterSeconds: int64(b.windowEnd.Sub(now).Seconds()),
			}, nil
		}
	}

	// All windows passed: record usage against each enabled window.
	for _, cw := range l.cfg.windows() {
		if cw.limit <= 0 {
			continue
		}
		perConv[cw.w].count++
	}

	return Result{Allowed: true}, nil
}
