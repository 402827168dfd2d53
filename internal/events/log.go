package events

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"missionctl/internal/domain"
)

const (
	DefaultCapacity  = 5000
	DefaultListLimit = 200
)

// Sink is the durable layer behind the in-memory buffer.
type Sink interface {
	Append(ctx context.Context, e domain.Event) error
	// Tail returns up to limit of the most recent persisted events, oldest first.
	Tail(ctx context.Context, limit int) ([]domain.Event, error)
}

// Log keeps recent events in a bounded ring and mirrors them to a Sink.
// Sink failures are logged and never returned.
type Log struct {
	Sink   Sink
	Logger *log.Logger
	Now    func() time.Time

	mu    sync.Mutex
	ring  []domain.Event
	start int
	size  int
}

func NewLog(sink Sink, capacity int, logger *log.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{Sink: sink, Logger: logger, ring: make([]domain.Event, capacity)}
}

// Append assigns id and ts when missing and returns the stored event.
func (l *Log) Append(ctx context.Context, e domain.Event) domain.Event {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	if e.ID == "" {
		e.ID = ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	}
	if e.TS == "" {
		e.TS = domain.FormatTime(now)
	}
	if e.Source == "" {
		e.Source = domain.SourceSystem
	}

	l.mu.Lock()
	if len(l.ring) == 0 {
		l.ring = make([]domain.Event, DefaultCapacity)
	}
	idx := (l.start + l.size) % len(l.ring)
	l.ring[idx] = e
	if l.size < len(l.ring) {
		l.size++
	} else {
		l.start = (l.start + 1) % len(l.ring)
	}
	l.mu.Unlock()

	if l.Sink != nil {
		if err := l.Sink.Append(ctx, e); err != nil {
			l.logger().Printf("events: persist %s %s failed: %v", e.Type, e.ID, err)
		}
	}
	return e
}

// Memory returns the buffered events, oldest first.
func (l *Log) Memory() []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Event, 0, l.size)
	for i := 0; i < l.size; i++ {
		out = append(out, l.ring[(l.start+i)%len(l.ring)])
	}
	return out
}

// List merges the durable tail with the buffer, memory winning on id
// collisions, and returns the most recent limit events in ts order.
func (l *Log) List(ctx context.Context, limit int) []domain.Event {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var disk []domain.Event
	if l.Sink != nil {
		tail, err := l.Sink.Tail(ctx, limit)
		if err != nil {
			l.logger().Printf("events: read tail failed: %v", err)
		} else {
			disk = tail
		}
	}

	byID := make(map[string]domain.Event, len(disk)+l.size)
	for _, e := range disk {
		byID[e.ID] = e
	}
	for _, e := range l.Memory() {
		byID[e.ID] = e
	}
	merged := make([]domain.Event, 0, len(byID))
	for _, e := range byID {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].TS != merged[j].TS {
			return tsLess(merged[i].TS, merged[j].TS)
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged
}

func tsLess(a, b string) bool {
	ta, errA := domain.ParseTime(a)
	tb, errB := domain.ParseTime(b)
	if errA != nil || errB != nil {
		return a < b
	}
	return ta.Before(tb)
}

func (l *Log) logger() *log.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return log.Default()
}
