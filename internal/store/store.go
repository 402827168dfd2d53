package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"

	"missionctl/internal/domain"
)

// Collection names.
const (
	Tasks    = "tasks"
	Agents   = "agents"
	Mentions = "mentions"
	Budget   = "budget"
	Usage    = "usage"
	Skips    = "skips"
)

// AnyVersion disables the optimistic version check on write.
const AnyVersion int64 = -1

var (
	// ErrConflict is returned when the stored version differs from the expected one.
	ErrConflict = errors.New("store: version conflict")
	// ErrPersistence matches every *PersistenceError.
	ErrPersistence = errors.New("store: persistence failure")
	// ErrUnchanged tells Mutate to skip the write and report success.
	ErrUnchanged = errors.New("store: unchanged")
)

// PersistenceError reports a write that failed after all retries.
type PersistenceError struct {
	Collection string
	Attempts   int
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s failed after %d attempts: %v", e.Collection, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Document is one committed collection.
type Document struct {
	Version   int64
	UpdatedAt string
	Data      json.RawMessage
}

// Backend persists whole collections. Write must publish atomically: a
// concurrent Read sees either the previous or the new document.
type Backend interface {
	Read(ctx context.Context, name string) (Document, bool, error)
	// Write stores data as the next version. When expected is not AnyVersion
	// and differs from the stored version it returns ErrConflict.
	Write(ctx context.Context, name string, data json.RawMessage, updatedAt string, expected int64) (int64, error)
}

// DefaultBackoff is the wait before each write attempt.
var DefaultBackoff = []time.Duration{0, 50 * time.Millisecond, 120 * time.Millisecond}

type Store struct {
	Backend Backend
	Logger  *log.Logger
	Now     func() time.Time
	Backoff []time.Duration
	Sleep   func(time.Duration)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(b Backend, logger *log.Logger) *Store {
	return &Store{Backend: b, Logger: logger}
}

// Load decodes the committed collection into dst and returns its version.
// A missing collection leaves dst untouched and an unreadable one resets it;
// neither is an error.
func (s *Store) Load(ctx context.Context, collection string, dst any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	doc, ok, err := s.Backend.Read(ctx, collection)
	if err != nil {
		s.logger().Printf("store: read %s failed, using empty collection: %v", collection, err)
		reset(dst)
		return 0, nil
	}
	if !ok || len(doc.Data) == 0 || string(doc.Data) == "null" {
		return doc.Version, nil
	}
	if err := json.Unmarshal(doc.Data, dst); err != nil {
		s.logger().Printf("store: decode %s failed, using empty collection: %v", collection, err)
		reset(dst)
		return doc.Version, nil
	}
	return doc.Version, nil
}

// Save writes v unconditionally; the last writer wins.
func (s *Store) Save(ctx context.Context, collection string, v any) (int64, error) {
	return s.SaveVersion(ctx, collection, v, AnyVersion)
}

// SaveVersion writes v only if the stored version still equals expected.
func (s *Store) SaveVersion(ctx context.Context, collection string, v any, expected int64) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", collection, err)
	}
	backoff := s.Backoff
	if len(backoff) == 0 {
		backoff = DefaultBackoff
	}
	var lastErr error
	for i, wait := range backoff {
		if wait > 0 {
			s.sleep(wait)
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		version, err := s.Backend.Write(ctx, collection, data, domain.FormatTime(s.now()), expected)
		if err == nil {
			return version, nil
		}
		if errors.Is(err, ErrConflict) {
			return 0, fmt.Errorf("save %s: %w", collection, err)
		}
		lastErr = err
		s.logger().Printf("store: write %s attempt %d failed: %v", collection, i+1, err)
	}
	return 0, &PersistenceError{Collection: collection, Attempts: len(backoff), Err: lastErr}
}

// Mutate loads a collection, applies fn and saves the result against the
// loaded version. Calls on the same collection through one Store are
// serialised. If fn returns an error nothing is written; ErrUnchanged is
// swallowed and the loaded value returned.
func Mutate[T any](ctx context.Context, s *Store, collection string, fn func(*T) error) (T, error) {
	lock := s.lock(collection)
	lock.Lock()
	defer lock.Unlock()

	var v T
	version, err := s.Load(ctx, collection, &v)
	if err != nil {
		return v, err
	}
	if err := fn(&v); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return v, nil
		}
		return v, err
	}
	if _, err := s.SaveVersion(ctx, collection, v, version); err != nil {
		return v, err
	}
	return v, nil
}

func (s *Store) lock(collection string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = map[string]*sync.Mutex{}
	}
	l, ok := s.locks[collection]
	if !ok {
		l = &sync.Mutex{}
		s.locks[collection] = l
	}
	return l
}

func (s *Store) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) sleep(d time.Duration) {
	if s.Sleep != nil {
		s.Sleep(d)
		return
	}
	time.Sleep(d)
}

func reset(dst any) {
	rv := reflect.ValueOf(dst)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv.Elem().Set(reflect.Zero(rv.Elem().Type()))
	}
}
