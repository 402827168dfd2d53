package missionctlsdk_test

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"missionctl/internal/app"
	"missionctl/internal/config"
	"missionctl/internal/server"
	missionctlsdk "missionctl/sdk/go"
)

func newClient(t *testing.T) *missionctlsdk.Client {
	t.Helper()
	ctx := context.Background()
	quiet := log.New(io.Discard, "", 0)
	a, err := app.Open(ctx, t.TempDir(), config.Default(), quiet)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	_, _, err = a.Seed(ctx)
	require.NoError(t, err)
	_, err = a.Ledger.Init(ctx, "pro", 1)
	require.NoError(t, err)

	h, err := server.New(server.Config{App: a, Logger: quiet})
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := missionctlsdk.New(srv.URL)
	c.ActorID = "main"
	return c
}

func TestTaskLifecycle(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	parent, err := c.CreateTask(ctx, missionctlsdk.NewTask{Title: "Mission"})
	require.NoError(t, err)
	require.Equal(t, "main", parent.CreatedBy)
	child, err := c.CreateTask(ctx, missionctlsdk.NewTask{Title: "Step", ParentID: parent.ID})
	require.NoError(t, err)

	_, err = c.SetStatus(ctx, parent.ID, "done")
	var apiErr *missionctlsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, "review_gate", apiErr.Code)

	_, err = c.PickTask(ctx, child.ID, "claude1")
	require.NoError(t, err)
	done, err := c.CompleteTask(ctx, child.ID, "claude1", "", []string{"notes.md"})
	require.NoError(t, err)
	require.Equal(t, "review", done.Status)

	res, err := c.Review(ctx, child.ID, "main", "approved", "")
	require.NoError(t, err)
	require.True(t, res.AutoAdvanced)
	require.Equal(t, "done", res.Parent.Status)

	tasks, err := c.ListTasks(ctx, "done")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, parent.ID, tasks[0].ID)
}

func TestBudgetRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	r, err := c.Reserve(ctx, 0.75, "gateway call")
	require.NoError(t, err)
	require.True(t, r.OK)
	require.Equal(t, 0.75, r.State.EURReserved)

	_, err = c.Reserve(ctx, 0.5, "")
	require.True(t, missionctlsdk.IsBudgetRefusal(err))

	s, err := c.Release(ctx, r.ReservationID, "cancelled")
	require.NoError(t, err)
	require.Zero(t, s.EURReserved)

	r2, err := c.Reserve(ctx, 0.5, "")
	require.NoError(t, err)
	s, err = c.Commit(ctx, r2.ReservationID, 0.4, "")
	require.NoError(t, err)
	require.InDelta(t, 0.4, s.EURUsed, 1e-9)
}

func TestPostEvent(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	evt, err := c.PostEvent(ctx, missionctlsdk.Event{Message: "hello", Data: map[string]any{"n": 1}})
	require.NoError(t, err)
	require.Equal(t, "external", evt.Source)
	require.Equal(t, "external.event", evt.Type)

	evts, err := c.Events(ctx, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(evts))
	for _, e := range evts {
		ids = append(ids, e.ID)
	}
	require.Contains(t, ids, evt.ID)
}
