package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"missionctl/internal/db"
	"missionctl/internal/migrate"
	"missionctl/internal/store"
)

type record struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type flakyBackend struct {
	store.Backend
	failures int
	writes   int
}

func (f *flakyBackend) Write(ctx context.Context, name string, data json.RawMessage, updatedAt string, expected int64) (int64, error) {
	f.writes++
	if f.writes <= f.failures {
		return 0, errors.New("resource busy")
	}
	return f.Backend.Write(ctx, name, data, updatedAt, expected)
}

func quietStore(b store.Backend) (*store.Store, *[]time.Duration) {
	var waits []time.Duration
	s := store.New(b, log.New(io.Discard, "", 0))
	s.Sleep = func(d time.Duration) { waits = append(waits, d) }
	return s, &waits
}

func TestLoadMissingCollectionIsEmpty(t *testing.T) {
	s, _ := quietStore(store.FileBackend{Dir: t.TempDir()})
	var out []record
	v, err := s.Load(context.Background(), store.Tasks, &out)
	require.NoError(t, err)
	require.Zero(t, v)
	require.Empty(t, out)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, _ := quietStore(store.FileBackend{Dir: dir})
	ctx := context.Background()
	in := []record{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}}

	v, err := s.Save(ctx, store.Tasks, in)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	var out []record
	got, err := s.Load(ctx, store.Tasks, &out)
	require.NoError(t, err)
	require.Equal(t, int64(1), got)
	require.Equal(t, in, out)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLoadCorruptFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	b := store.FileBackend{Dir: dir}
	require.NoError(t, os.WriteFile(b.Path(store.Tasks), []byte(`[{"id":"1"`), 0o644))
	s, _ := quietStore(b)

	out := []record{{ID: "stale"}}
	v, err := s.Load(context.Background(), store.Tasks, &out)
	require.NoError(t, err)
	require.Zero(t, v)
	require.Empty(t, out)
}

func TestLoadLegacyPlainJSON(t *testing.T) {
	dir := t.TempDir()
	b := store.FileBackend{Dir: dir}
	require.NoError(t, os.WriteFile(b.Path(store.Tasks), []byte(`[{"id":"1","name":"old"}]`), 0o644))
	s, _ := quietStore(b)
	ctx := context.Background()

	var out []record
	v, err := s.Load(ctx, store.Tasks, &out)
	require.NoError(t, err)
	require.Zero(t, v)
	require.Equal(t, "old", out[0].Name)

	next, err := s.SaveVersion(ctx, store.Tasks, out, v)
	require.NoError(t, err)
	require.Equal(t, int64(1), next)
}

func TestSaveVersionConflict(t *testing.T) {
	s, _ := quietStore(store.FileBackend{Dir: t.TempDir()})
	ctx := context.Background()
	_, err := s.Save(ctx, store.Tasks, []record{{ID: "1"}})
	require.NoError(t, err)

	_, err = s.SaveVersion(ctx, store.Tasks, []record{{ID: "2"}}, 0)
	require.ErrorIs(t, err, store.ErrConflict)
	require.NotErrorIs(t, err, store.ErrPersistence)
}

func TestSaveRetriesWithBackoff(t *testing.T) {
	fb := &flakyBackend{Backend: store.FileBackend{Dir: t.TempDir()}, failures: 2}
	s, waits := quietStore(fb)

	_, err := s.Save(context.Background(), store.Tasks, []record{{ID: "1"}})
	require.NoError(t, err)
	require.Equal(t, 3, fb.writes)
	require.Equal(t, []time.Duration{50 * time.Millisecond, 120 * time.Millisecond}, *waits)
}

func TestSaveExhaustedRetriesIsPersistenceError(t *testing.T) {
	fb := &flakyBackend{Backend: store.FileBackend{Dir: t.TempDir()}, failures: 10}
	s, _ := quietStore(fb)

	_, err := s.Save(context.Background(), store.Tasks, []record{{ID: "1"}})
	require.ErrorIs(t, err, store.ErrPersistence)
	var pe *store.PersistenceError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, 3, pe.Attempts)
	require.Equal(t, store.Tasks, pe.Collection)
	require.Equal(t, 3, fb.writes)
}

func TestMutateErrorSkipsWrite(t *testing.T) {
	fb := &flakyBackend{Backend: store.FileBackend{Dir: t.TempDir()}}
	s, _ := quietStore(fb)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := store.Mutate(ctx, s, store.Tasks, func(rs *[]record) error {
		*rs = append(*rs, record{ID: "x"})
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, fb.writes)

	_, err = store.Mutate(ctx, s, store.Tasks, func(rs *[]record) error { return store.ErrUnchanged })
	require.NoError(t, err)
	require.Zero(t, fb.writes)

	out, err := store.Mutate(ctx, s, store.Tasks, func(rs *[]record) error {
		*rs = append(*rs, record{ID: "y"})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 1, fb.writes)
}

func TestMutateSerialisesWithinProcess(t *testing.T) {
	s, _ := quietStore(store.FileBackend{Dir: t.TempDir()})
	ctx := context.Background()
	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			_, err := store.Mutate(ctx, s, store.Tasks, func(n *int) error {
				*n++
				return nil
			})
			done <- err
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, <-done)
	}
	var n int
	_, err := s.Load(ctx, store.Tasks, &n)
	require.NoError(t, err)
	require.Equal(t, 20, n)
}

func TestSQLiteBackend(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(db.Config{DataDir: filepath.Join(dir, "data")})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	s, _ := quietStore(store.SQLiteBackend{DB: conn})
	var out []record
	v, err := s.Load(ctx, store.Agents, &out)
	require.NoError(t, err)
	require.Zero(t, v)

	v, err = s.SaveVersion(ctx, store.Agents, []record{{ID: "a"}}, v)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	_, err = s.SaveVersion(ctx, store.Agents, []record{{ID: "b"}}, 0)
	require.ErrorIs(t, err, store.ErrConflict)

	got, err := store.Mutate(ctx, s, store.Agents, func(rs *[]record) error {
		*rs = append(*rs, record{ID: "c"})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	v, err = s.Load(ctx, store.Agents, &out)
	require.NoError(t, err)
	require.Equal(t, int64(2), v)
	require.Equal(t, []record{{ID: "a"}, {ID: "c"}}, out)
}
