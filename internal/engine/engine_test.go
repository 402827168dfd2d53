package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"missionctl/internal/config"
	"missionctl/internal/domain"
	"missionctl/internal/engine"
	"missionctl/internal/events"
	"missionctl/internal/repo"
	"missionctl/internal/store"
)

type countingBackend struct {
	store.Backend
	writes map[string]int
	fail   map[string]error
}

func (c *countingBackend) Write(ctx context.Context, name string, data json.RawMessage, updatedAt string, expected int64) (int64, error) {
	c.writes[name]++
	if err := c.fail[name]; err != nil {
		return 0, err
	}
	return c.Backend.Write(ctx, name, data, updatedAt, expected)
}

type testEnv struct {
	Engine  engine.Engine
	Events  *events.Log
	Backend *countingBackend
	Ctx     context.Context
}

func testRoster() config.Roster {
	return config.Roster{Agents: []config.RosterAgent{
		{ID: "main", Name: "Atlas", Role: "Coordinator"},
		{ID: "claude1", Name: "Forge", Role: "Backend"},
		{ID: "claude2", Name: "Glass", Role: "Frontend"},
	}}
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	backend := &countingBackend{Backend: store.FileBackend{Dir: t.TempDir()}, writes: map[string]int{}, fail: map[string]error{}}
	s := store.New(backend, quiet)
	s.Sleep = func(time.Duration) {}
	evts := events.NewLog(nil, 100, quiet)
	eng := engine.New(s, evts, testRoster(), quiet)
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time {
		tick = tick.Add(time.Millisecond)
		return tick
	}
	evts.Now = eng.Now
	ctx := context.Background()
	if _, _, err := eng.SeedAgents(ctx, testRoster()); err != nil {
		t.Fatalf("seed agents: %v", err)
	}
	return testEnv{Engine: eng, Events: evts, Backend: backend, Ctx: ctx}
}

func (env testEnv) create(t *testing.T, title, parent string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: title, ParentID: parent, CreatedBy: "main"})
	if err != nil {
		t.Fatalf("create %s: %v", title, err)
	}
	return task
}

func statusPtr(s domain.TaskStatus) *domain.TaskStatus     { return &s }
func reviewPtr(r domain.ReviewStatus) *domain.ReviewStatus { return &r }
func strPtr(s string) *string                              { return &s }

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "  Write docs ", "")
	if task.Status != domain.StatusBacklog {
		t.Fatalf("expected backlog, got %s", task.Status)
	}
	if task.Title != "Write docs" || task.Priority != domain.PriorityMedium {
		t.Fatalf("unexpected defaults: %+v", task)
	}
	if task.Order <= 0 || task.CreatedAt == "" || task.ID == "" {
		t.Fatalf("expected id, order and timestamps: %+v", task)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: " "}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected invalid title error, got %v", err)
	}
	second := env.create(t, "Later", "")
	if second.Order <= task.Order {
		t.Fatalf("new tasks should sort after older ones")
	}
	list, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{Status: domain.StatusBacklog})
	if err != nil || len(list) != 2 || list[0].ID != task.ID {
		t.Fatalf("list: %v %+v", err, list)
	}
}

func TestUpdateMissingTaskDoesNotWrite(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "Existing", "")
	before := env.Backend.writes[store.Tasks]
	_, err := env.Engine.UpdateTask(env.Ctx, "missing", engine.TaskPatch{Title: strPtr("x")})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if env.Backend.writes[store.Tasks] != before {
		t.Fatalf("update of missing task wrote the collection")
	}
}

func TestReviewGateBlocksParentDone(t *testing.T) {
	env := newTestEnv(t)
	parent := env.create(t, "Mission", "")
	a := env.create(t, "Child A", parent.ID)
	env.create(t, "Child B", parent.ID)

	if _, err := env.Engine.UpdateTask(env.Ctx, a.ID, engine.TaskPatch{ReviewStatus: reviewPtr(domain.ReviewApproved)}); err != nil {
		t.Fatalf("approve a: %v", err)
	}
	writes := env.Backend.writes[store.Tasks]
	_, err := env.Engine.UpdateTask(env.Ctx, parent.ID, engine.TaskPatch{Status: statusPtr(domain.StatusDone), Title: strPtr("Renamed")})
	var gate *engine.ReviewGateError
	if !errors.As(err, &gate) || !errors.Is(err, engine.ErrReviewGate) {
		t.Fatalf("expected review gate error, got %v", err)
	}
	if gate.Unapproved != 1 || gate.Total != 2 {
		t.Fatalf("unexpected counts: %+v", gate)
	}
	if !strings.Contains(err.Error(), "1/2 subtasks are not approved") {
		t.Fatalf("unexpected message: %v", err)
	}
	if env.Backend.writes[store.Tasks] != writes {
		t.Fatalf("rejected update must not write")
	}
	got, _ := env.Engine.GetTask(env.Ctx, parent.ID)
	if got.Status != domain.StatusBacklog || got.Title != "Mission" {
		t.Fatalf("parent mutated despite rejection: %+v", got)
	}

	// A task without children may always be set to done.
	if _, err := env.Engine.UpdateTask(env.Ctx, a.ID, engine.TaskPatch{Status: statusPtr(domain.StatusDone)}); err != nil {
		t.Fatalf("leaf done: %v", err)
	}
}

func TestParentDoneAfterChildApproved(t *testing.T) {
	env := newTestEnv(t)
	parent := env.create(t, "A", "")
	child := env.create(t, "B", parent.ID)

	if _, err := env.Engine.UpdateTask(env.Ctx, child.ID, engine.TaskPatch{
		ReviewStatus: reviewPtr(domain.ReviewApproved),
		Status:       statusPtr(domain.StatusDone),
	}); err != nil {
		t.Fatalf("child done: %v", err)
	}
	updated, err := env.Engine.UpdateTask(env.Ctx, parent.ID, engine.TaskPatch{Status: statusPtr(domain.StatusDone)})
	if err != nil || updated.Status != domain.StatusDone {
		t.Fatalf("parent done: %v", err)
	}
}

func TestReviewAutoAdvancesParent(t *testing.T) {
	env := newTestEnv(t)
	parent := env.create(t, "A", "")
	b := env.create(t, "B", parent.ID)
	c := env.create(t, "C", parent.ID)

	res, err := env.Engine.ReviewTask(env.Ctx, b.ID, "main", domain.ReviewApproved, "")
	if err != nil {
		t.Fatalf("review b: %v", err)
	}
	if res.AutoAdvanced {
		t.Fatalf("parent must wait for all children")
	}
	if res.Task.ReviewedBy != "main" || res.Task.ReviewedAt == "" {
		t.Fatalf("review fields not set: %+v", res.Task)
	}

	res, err = env.Engine.ReviewTask(env.Ctx, c.ID, "main", domain.ReviewApproved, "lgtm")
	if err != nil {
		t.Fatalf("review c: %v", err)
	}
	if !res.AutoAdvanced || res.Parent == nil || res.Parent.Status != domain.StatusDone {
		t.Fatalf("expected parent auto-advanced: %+v", res)
	}

	found := false
	for _, e := range env.Events.List(env.Ctx, 100) {
		if e.Source == domain.SourceSystem && e.TaskID == parent.ID && strings.Contains(e.Message, "auto-advanced") {
			found = true
		}
	}
	if !found {
		t.Fatalf("auto-advance event missing")
	}
}

func TestReviewChangesRequestedKeepsStatus(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "T", "")
	if _, err := env.Engine.CompleteTask(env.Ctx, engine.CompleteOptions{TaskID: task.ID, AgentID: "claude1"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	res, err := env.Engine.ReviewTask(env.Ctx, task.ID, "main", domain.ReviewChangesRequested, "fix tests")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if res.Task.Status != domain.StatusReview || res.Task.ReviewStatus != domain.ReviewChangesRequested {
		t.Fatalf("unexpected task: %+v", res.Task)
	}
	if _, err := env.Engine.ReviewTask(env.Ctx, task.ID, "main", domain.ReviewPending, ""); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected invalid decision, got %v", err)
	}
}

func TestStatusReviewDefaultsPending(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "T", "")
	got, err := env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskPatch{Status: statusPtr(domain.StatusReview)})
	if err != nil || got.ReviewStatus != domain.ReviewPending {
		t.Fatalf("expected pending: %v %+v", err, got)
	}
	other := env.create(t, "U", "")
	got, err = env.Engine.UpdateTask(env.Ctx, other.ID, engine.TaskPatch{
		Status:       statusPtr(domain.StatusReview),
		ReviewStatus: reviewPtr(domain.ReviewApproved),
	})
	if err != nil || got.ReviewStatus != domain.ReviewApproved {
		t.Fatalf("explicit review status must win: %v %+v", err, got)
	}
}

func TestUpdateNormalisesDates(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "T", "")
	due := time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("CET", 3600))
	got, err := env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskPatch{DueDate: &due})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.DueDate != "2024-05-06T06:08:09.000Z" {
		t.Fatalf("unexpected due date %q", got.DueDate)
	}
	zero := time.Time{}
	got, err = env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskPatch{DueDate: &zero})
	if err != nil || got.DueDate != "" {
		t.Fatalf("zero time should clear due date: %v %q", err, got.DueDate)
	}

	reviewed := time.Date(2024, 5, 6, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	got, err = env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskPatch{ReviewedAt: &reviewed})
	if err != nil {
		t.Fatalf("update reviewedAt: %v", err)
	}
	if got.ReviewedAt != "2024-05-07T04:30:00.000Z" {
		t.Fatalf("unexpected reviewedAt %q", got.ReviewedAt)
	}
	got, err = env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskPatch{ReviewedAt: &zero})
	if err != nil || got.ReviewedAt != "" {
		t.Fatalf("zero time should clear reviewedAt: %v %q", err, got.ReviewedAt)
	}
}

func TestUpdateDeliverablePrepends(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "T", "")
	got, err := env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskPatch{Deliverables: &[]string{"a.md"}})
	if err != nil {
		t.Fatalf("set deliverables: %v", err)
	}
	got, err = env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskPatch{Deliverable: strPtr("summary.md")})
	if err != nil {
		t.Fatalf("set deliverable: %v", err)
	}
	if got.Deliverable != "summary.md" || strings.Join(got.Deliverables, ",") != "summary.md,a.md" {
		t.Fatalf("unexpected deliverables %q %v", got.Deliverable, got.Deliverables)
	}
	got, err = env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskPatch{Deliverable: strPtr("a.md")})
	if err != nil || strings.Join(got.Deliverables, ",") != "summary.md,a.md" {
		t.Fatalf("existing deliverable should not be duplicated: %v %v", err, got.Deliverables)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskPatch{Deliverable: strPtr("out.exe")}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("non-markdown deliverable should be rejected, got %v", err)
	}
	got, err = env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskPatch{Deliverable: strPtr("")})
	if err != nil || got.Deliverable != "" || len(got.Deliverables) != 2 {
		t.Fatalf("empty deliverable should clear only the primary: %v %+v", err, got)
	}
}

func TestUpdateEmitsMoveAndOrderEvents(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "T", "")
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskPatch{Status: statusPtr(domain.StatusTodo)}); err != nil {
		t.Fatalf("move: %v", err)
	}
	order := 5.0
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskPatch{Order: &order}); err != nil {
		t.Fatalf("order: %v", err)
	}
	var types []string
	for _, e := range env.Events.List(env.Ctx, 10) {
		types = append(types, e.Type)
	}
	want := []string{domain.EventTaskCreated, domain.EventTaskMoved, domain.EventTaskOrdered}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("events %v, want %v", types, want)
	}
}

func TestParentCycleRejected(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "A", "")
	b := env.create(t, "B", a.ID)
	if _, err := env.Engine.UpdateTask(env.Ctx, a.ID, engine.TaskPatch{ParentID: strPtr(b.ID)}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected cycle rejection, got %v", err)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, a.ID, engine.TaskPatch{ParentID: strPtr(a.ID)}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected self-parent rejection, got %v", err)
	}
}

func TestDeleteDoesNotCascade(t *testing.T) {
	env := newTestEnv(t)
	parent := env.create(t, "A", "")
	child := env.create(t, "B", parent.ID)

	ok, err := env.Engine.DeleteTask(env.Ctx, parent.ID, "main")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = env.Engine.DeleteTask(env.Ctx, parent.ID, "main")
	if err != nil || ok {
		t.Fatalf("second delete should report false: %v %v", ok, err)
	}
	got, err := env.Engine.GetTask(env.Ctx, child.ID)
	if err != nil || got.ParentID != parent.ID {
		t.Fatalf("child must survive with its parentId: %v %+v", err, got)
	}

	orphans, err := env.Engine.Orphans(env.Ctx)
	if err != nil || len(orphans) != 1 || orphans[0].ID != child.ID {
		t.Fatalf("orphans: %v %+v", err, orphans)
	}
	pruned, err := env.Engine.PruneOrphans(env.Ctx, "main")
	if err != nil || len(pruned) != 1 {
		t.Fatalf("prune: %v %+v", err, pruned)
	}
	got, _ = env.Engine.GetTask(env.Ctx, child.ID)
	if got.ParentID != "" {
		t.Fatalf("parentId not cleared")
	}
}

func TestPickAndCompleteUpdateAgent(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "T", "")

	picked, err := env.Engine.PickTask(env.Ctx, task.ID, "claude1")
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if picked.Status != domain.StatusInProgress || picked.Assignee == nil || *picked.Assignee != "claude1" {
		t.Fatalf("unexpected picked task: %+v", picked)
	}
	if len(picked.WorkLog) != 1 || picked.WorkLog[0].Action != domain.WorkPicked {
		t.Fatalf("expected picked work log entry")
	}
	agent, err := env.Engine.GetAgent(env.Ctx, "claude1")
	if err != nil || agent.Status != domain.AgentWorking || agent.CurrentTask == nil || *agent.CurrentTask != task.ID {
		t.Fatalf("agent not working: %v %+v", err, agent)
	}

	if _, err := env.Engine.LogWork(env.Ctx, task.ID, "claude1", domain.WorkBlocked, "waiting on api"); err != nil {
		t.Fatalf("log work: %v", err)
	}
	if _, err := env.Engine.LogWork(env.Ctx, task.ID, "claude1", domain.WorkCompleted, ""); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("only progress/blocked allowed, got %v", err)
	}

	done, err := env.Engine.CompleteTask(env.Ctx, engine.CompleteOptions{
		TaskID:       task.ID,
		AgentID:      "claude1",
		Deliverables: []string{"a.md", "b.md", "a.md"},
		Deliverable:  "summary.md",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.StatusReview || done.ReviewStatus != domain.ReviewPending {
		t.Fatalf("unexpected completed task: %+v", done)
	}
	if strings.Join(done.Deliverables, ",") != "summary.md,a.md,b.md" {
		t.Fatalf("unexpected deliverables %v", done.Deliverables)
	}
	if len(done.WorkLog) != 3 || done.WorkLog[2].Action != domain.WorkCompleted {
		t.Fatalf("unexpected work log %+v", done.WorkLog)
	}
	agent, _ = env.Engine.GetAgent(env.Ctx, "claude1")
	if agent.Status != domain.AgentActive || agent.CurrentTask != nil {
		t.Fatalf("agent not released: %+v", agent)
	}

	if _, err := env.Engine.CompleteTask(env.Ctx, engine.CompleteOptions{TaskID: task.ID, AgentID: "claude1", Deliverables: []string{"x.txt"}}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("non-markdown deliverable should be rejected, got %v", err)
	}
}

func TestPickAndCompleteEmitWhenAgentWriteFails(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "T", "")
	env.Backend.fail[store.Agents] = errors.New("disk full")

	picked, err := env.Engine.PickTask(env.Ctx, task.ID, "claude1")
	if !errors.Is(err, store.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if picked.Status != domain.StatusInProgress {
		t.Fatalf("task write should be returned, got %+v", picked)
	}
	if _, err := env.Engine.CompleteTask(env.Ctx, engine.CompleteOptions{TaskID: task.ID, AgentID: "claude1"}); !errors.Is(err, store.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}

	var types []string
	for _, e := range env.Events.List(env.Ctx, 10) {
		if e.TaskID == task.ID {
			types = append(types, e.Type)
		}
	}
	want := []string{domain.EventTaskCreated, domain.EventTaskMoved, domain.EventTaskMoved}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("events %v, want %v", types, want)
	}
	stored, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil || stored.Status != domain.StatusReview {
		t.Fatalf("task status not persisted: %v %+v", err, stored)
	}
}

func TestCommentMentions(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "T", "")

	res, err := env.Engine.CommentWithMentions(env.Ctx, task.ID, "Main", "@Claude1 and @claude1, ping @claude2 and @nobody")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if len(res.Task.Comments) != 1 || res.Task.Comments[0].ID != res.CommentID || res.Task.Comments[0].Author != "main" {
		t.Fatalf("comment not stored: %+v", res.Task.Comments)
	}
	if len(res.Mentions) != 2 || res.Mentions[0].MentionedAgent != "claude1" || res.Mentions[1].MentionedAgent != "claude2" {
		t.Fatalf("unexpected mentions %+v", res.Mentions)
	}

	unread, err := env.Engine.MentionsFor(env.Ctx, "claude1", true)
	if err != nil || len(unread) != 1 || unread[0].TaskTitle != "T" {
		t.Fatalf("mentions for claude1: %v %+v", err, unread)
	}
	n, err := env.Engine.MarkMentionsRead(env.Ctx, []string{unread[0].ID})
	if err != nil || n != 1 {
		t.Fatalf("mark read: %v %d", err, n)
	}
	n, err = env.Engine.MarkAllMentionsRead(env.Ctx, "claude2")
	if err != nil || n != 1 {
		t.Fatalf("mark all read: %v %d", err, n)
	}
	unread, _ = env.Engine.MentionsFor(env.Ctx, "claude1", true)
	if len(unread) != 0 {
		t.Fatalf("expected no unread mentions")
	}

	if _, err := env.Engine.CommentWithMentions(env.Ctx, task.ID, "stranger", "hi"); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("unknown author should be rejected, got %v", err)
	}
	if _, err := env.Engine.CommentWithMentions(env.Ctx, "missing", "main", "hi"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestParseMentions(t *testing.T) {
	got := engine.ParseMentions("@A @b_2 @a email@x.y", nil)
	if strings.Join(got, ",") != "a,b_2,x" {
		t.Fatalf("unexpected %v", got)
	}
}

func TestRunMissionMovesBacklogChildren(t *testing.T) {
	env := newTestEnv(t)
	parent := env.create(t, "Mission", "")
	a := env.create(t, "A", parent.ID)
	b := env.create(t, "B", parent.ID)
	if _, err := env.Engine.UpdateTask(env.Ctx, b.ID, engine.TaskPatch{Status: statusPtr(domain.StatusInProgress)}); err != nil {
		t.Fatalf("move b: %v", err)
	}

	res, err := env.Engine.RunMission(env.Ctx, parent.ID, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Moved != 1 || res.TotalChildren != 2 {
		t.Fatalf("unexpected run result %+v", res)
	}
	if res.Parent.Status != domain.StatusTodo {
		t.Fatalf("parent should be todo, got %s", res.Parent.Status)
	}
	last := res.Parent.Comments[len(res.Parent.Comments)-1]
	if last.Author != "main" || last.Content != "Run invoked: moved 1/2 subtasks to TODO." {
		t.Fatalf("unexpected comment %+v", last)
	}
	got, _ := env.Engine.GetTask(env.Ctx, a.ID)
	if got.Status != domain.StatusTodo {
		t.Fatalf("child a should be todo")
	}
	if _, err := env.Engine.RunMission(env.Ctx, "missing", "main"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSeedAgentsPreservesRuntimeFields(t *testing.T) {
	env := newTestEnv(t)
	status := domain.AgentOffline
	if _, err := env.Engine.UpdateAgent(env.Ctx, "claude2", engine.AgentPatch{Status: &status}); err != nil {
		t.Fatalf("update agent: %v", err)
	}
	writes := env.Backend.writes[store.Agents]
	if _, changed, err := env.Engine.SeedAgents(env.Ctx, testRoster()); err != nil || changed {
		t.Fatalf("re-seeding an unchanged roster should not write: %v %v", changed, err)
	}
	if env.Backend.writes[store.Agents] != writes {
		t.Fatalf("unexpected agents write")
	}

	roster := testRoster()
	roster.Agents[2].Name = "Glass v2"
	roster.Agents = append(roster.Agents, config.RosterAgent{ID: "tanel", Name: "Plan"})
	agents, changed, err := env.Engine.SeedAgents(env.Ctx, roster)
	if err != nil || !changed || len(agents) != 4 {
		t.Fatalf("seed: %v %v %d", err, changed, len(agents))
	}
	agent, _ := env.Engine.GetAgent(env.Ctx, "claude2")
	if agent.Name != "Glass v2" || agent.Status != domain.AgentOffline {
		t.Fatalf("identity not synced or runtime lost: %+v", agent)
	}
	if _, err := env.Engine.UpdateAgent(env.Ctx, "ghost", engine.AgentPatch{Status: &status}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTasksByAgentSortsByPriority(t *testing.T) {
	env := newTestEnv(t)
	for _, p := range []domain.Priority{domain.PriorityLow, domain.PriorityUrgent, domain.PriorityMedium} {
		if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: string(p), Priority: p, Assignee: "claude1"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	env.create(t, "unassigned", "")
	tasks, err := env.Engine.TasksByAgent(env.Ctx, "claude1")
	if err != nil || len(tasks) != 3 {
		t.Fatalf("tasks by agent: %v %d", err, len(tasks))
	}
	if tasks[0].Priority != domain.PriorityUrgent || tasks[2].Priority != domain.PriorityLow {
		t.Fatalf("unexpected order: %s %s %s", tasks[0].Priority, tasks[1].Priority, tasks[2].Priority)
	}
}

func TestSkips(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.AddSkip(env.Ctx, "msg:1", "noise", "ui"); err != nil {
		t.Fatalf("add skip: %v", err)
	}
	if err := env.Engine.AddSkip(env.Ctx, "msg:1", "", "ui"); err != nil {
		t.Fatalf("duplicate skip: %v", err)
	}
	if err := env.Engine.AddSkip(env.Ctx, "evt:2", "", "ui"); err != nil {
		t.Fatalf("add skip: %v", err)
	}
	keys, err := env.Engine.ListSkips(env.Ctx)
	if err != nil || strings.Join(keys, ",") != "msg:1,evt:2" {
		t.Fatalf("skips: %v %v", err, keys)
	}
	if err := env.Engine.RemoveSkip(env.Ctx, "msg:1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	keys, _ = env.Engine.ListSkips(env.Ctx)
	if strings.Join(keys, ",") != "evt:2" {
		t.Fatalf("after remove: %v", keys)
	}
	if err := env.Engine.AddSkip(env.Ctx, " ", "", "ui"); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
}
