package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"missionctl/internal/domain"
	"missionctl/internal/repo"
	"missionctl/internal/store"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title       string
	Description string
	Priority    domain.Priority
	Assignee    string
	CreatedBy   string
	Tags        []string
	DueDate     *time.Time
	ParentID    string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, invalid("title is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !opts.Priority.Valid() {
		return domain.Task{}, invalid("invalid priority %q", opts.Priority)
	}
	if opts.CreatedBy == "" {
		opts.CreatedBy = "main"
	}
	now := e.now()
	ts := domain.FormatTime(now)
	t := domain.Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: opts.Description,
		Status:      domain.StatusBacklog,
		Priority:    opts.Priority,
		Assignee:    optionalString(opts.Assignee),
		CreatedBy:   opts.CreatedBy,
		CreatedAt:   ts,
		UpdatedAt:   ts,
		Order:       float64(now.UnixMilli()),
		Tags:        dedupe(opts.Tags),
		Comments:    []domain.Comment{},
		WorkLog:     []domain.WorkLogEntry{},
		ParentID:    opts.ParentID,
	}
	if opts.DueDate != nil && !opts.DueDate.IsZero() {
		t.DueDate = domain.FormatTime(*opts.DueDate)
	}
	if _, err := e.Repo.MutateTasks(ctx, func(tasks *[]domain.Task) error {
		*tasks = append(*tasks, t)
		return nil
	}); err != nil {
		return domain.Task{}, err
	}
	e.emit(ctx, domain.Event{
		Type:     domain.EventTaskCreated,
		AgentID:  opts.CreatedBy,
		TaskID:   t.ID,
		ParentID: t.ParentID,
		Message:  fmt.Sprintf("Created %s", t.Title),
	})
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

// TaskPatch carries a partial update. Nil fields are left alone; an empty
// string or zero time clears optional fields.
type TaskPatch struct {
	Title        *string
	Description  *string
	Status       *domain.TaskStatus
	Priority     *domain.Priority
	Assignee     *string
	Order        *float64
	Tags         *[]string
	DueDate      *time.Time
	Deliverables *[]string
	// Deliverable sets the primary deliverable and prepends it to
	// Deliverables when missing. Empty clears it.
	Deliverable  *string
	ReviewStatus *domain.ReviewStatus
	ReviewedBy   *string
	ReviewedAt   *time.Time
	ReviewNotes  *string
	ParentID     *string
	Actor        string
}

func (p TaskPatch) validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return invalid("title cannot be empty")
	}
	if p.Status != nil && !p.Status.Valid() {
		return invalid("invalid status %q", *p.Status)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return invalid("invalid priority %q", *p.Priority)
	}
	if p.ReviewStatus != nil && *p.ReviewStatus != "" && !p.ReviewStatus.Valid() {
		return invalid("invalid review status %q", *p.ReviewStatus)
	}
	if p.Deliverables != nil {
		if err := validateDeliverables(*p.Deliverables); err != nil {
			return err
		}
	}
	if p.Deliverable != nil && strings.TrimSpace(*p.Deliverable) != "" {
		if err := validateDeliverables([]string{strings.TrimSpace(*p.Deliverable)}); err != nil {
			return err
		}
	}
	return nil
}

// UpdateTask applies patch as one collection write. The review gate and
// every validation run before anything is mutated.
func (e Engine) UpdateTask(ctx context.Context, id string, patch TaskPatch) (domain.Task, error) {
	if err := patch.validate(); err != nil {
		return domain.Task{}, err
	}
	var before, after domain.Task
	_, err := e.Repo.MutateTasks(ctx, func(tasks *[]domain.Task) error {
		i := repo.IndexTask(*tasks, id)
		if i < 0 {
			return repo.ErrNotFound
		}
		if patch.Status != nil && *patch.Status == domain.StatusDone {
			if err := checkReviewGate(*tasks, id); err != nil {
				return err
			}
		}
		if patch.ParentID != nil && *patch.ParentID != "" {
			if err := ensureNoCycle(*tasks, *patch.ParentID, id); err != nil {
				return err
			}
		}
		t := &(*tasks)[i]
		before = *t
		e.applyPatch(t, patch)
		after = *t
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.emitUpdate(ctx, before, after, patch.Actor)
	return after, nil
}

func (e Engine) applyPatch(t *domain.Task, p TaskPatch) {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Assignee != nil {
		t.Assignee = optionalString(*p.Assignee)
	}
	if p.Order != nil {
		t.Order = *p.Order
	}
	if p.Tags != nil {
		t.Tags = dedupe(*p.Tags)
	}
	if p.DueDate != nil {
		t.DueDate = formatOptionalTime(*p.DueDate)
	}
	if p.Deliverables != nil {
		t.Deliverables = dedupe(*p.Deliverables)
		if t.Deliverable != "" && !contains(t.Deliverables, t.Deliverable) {
			t.Deliverable = ""
		}
	}
	if p.Deliverable != nil {
		d := strings.TrimSpace(*p.Deliverable)
		t.Deliverable = d
		if d != "" && !contains(t.Deliverables, d) {
			t.Deliverables = append([]string{d}, t.Deliverables...)
		}
	}
	if p.ReviewStatus != nil {
		t.ReviewStatus = *p.ReviewStatus
	} else if p.Status != nil && *p.Status == domain.StatusReview && t.ReviewStatus == "" {
		t.ReviewStatus = domain.ReviewPending
	}
	if p.ReviewedBy != nil {
		t.ReviewedBy = *p.ReviewedBy
	}
	if p.ReviewedAt != nil {
		t.ReviewedAt = formatOptionalTime(*p.ReviewedAt)
	}
	if p.ReviewNotes != nil {
		t.ReviewNotes = *p.ReviewNotes
	}
	if p.ParentID != nil {
		t.ParentID = *p.ParentID
	}
	t.UpdatedAt = e.timestamp()
}

func (e Engine) emitUpdate(ctx context.Context, before, after domain.Task, actor string) {
	evt := domain.Event{
		AgentID:  actor,
		TaskID:   after.ID,
		ParentID: after.ParentID,
	}
	switch {
	case before.Status != after.Status:
		evt.Type = domain.EventTaskMoved
		evt.Message = fmt.Sprintf("Moved %s from %s to %s", after.Title, before.Status, after.Status)
		evt.Data = map[string]any{"from": string(before.Status), "to": string(after.Status)}
	case before.Order != after.Order:
		evt.Type = domain.EventTaskOrdered
		evt.Message = fmt.Sprintf("Reordered %s", after.Title)
		evt.Data = map[string]any{"order": after.Order}
	default:
		evt.Type = domain.EventTaskUpdated
		evt.Message = fmt.Sprintf("Updated %s", after.Title)
	}
	e.emit(ctx, evt)
}

// DeleteTask removes one task. Children keep their parentId.
func (e Engine) DeleteTask(ctx context.Context, id, actor string) (bool, error) {
	var removed domain.Task
	found := false
	_, err := e.Repo.MutateTasks(ctx, func(tasks *[]domain.Task) error {
		i := repo.IndexTask(*tasks, id)
		if i < 0 {
			return repo.ErrNotFound
		}
		removed = (*tasks)[i]
		found = true
		*tasks = append((*tasks)[:i], (*tasks)[i+1:]...)
		return nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	e.emit(ctx, domain.Event{
		Type:     domain.EventTaskDeleted,
		AgentID:  actor,
		TaskID:   removed.ID,
		ParentID: removed.ParentID,
		Message:  fmt.Sprintf("Deleted %s", removed.Title),
	})
	return found, nil
}

// TasksByAgent lists tasks assigned to agentID, most urgent first.
func (e Engine) TasksByAgent(ctx context.Context, agentID string) ([]domain.Task, error) {
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{Assignee: agentID})
	if err != nil {
		return nil, err
	}
	repo.SortByPriority(tasks)
	return tasks, nil
}

// Orphans lists tasks whose parentId points to a task that no longer exists.
func (e Engine) Orphans(ctx context.Context) ([]domain.Task, error) {
	tasks, err := e.Repo.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	return orphans(tasks), nil
}

// PruneOrphans clears dangling parentIds and returns the affected tasks.
func (e Engine) PruneOrphans(ctx context.Context, actor string) ([]domain.Task, error) {
	var pruned []domain.Task
	_, err := e.Repo.MutateTasks(ctx, func(tasks *[]domain.Task) error {
		pruned = orphans(*tasks)
		if len(pruned) == 0 {
			return store.ErrUnchanged
		}
		ts := e.timestamp()
		for _, o := range pruned {
			i := repo.IndexTask(*tasks, o.ID)
			(*tasks)[i].ParentID = ""
			(*tasks)[i].UpdatedAt = ts
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, o := range pruned {
		e.emit(ctx, domain.Event{
			Type:    domain.EventTaskUpdated,
			AgentID: actor,
			TaskID:  o.ID,
			Message: fmt.Sprintf("Cleared missing parent %s from %s", o.ParentID, o.Title),
			Data:    map[string]any{"parentId": o.ParentID},
		})
	}
	return pruned, nil
}

func orphans(tasks []domain.Task) []domain.Task {
	ids := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		ids[t.ID] = true
	}
	var res []domain.Task
	for _, t := range tasks {
		if t.ParentID != "" && !ids[t.ParentID] {
			res = append(res, t)
		}
	}
	return res
}

func ensureNoCycle(tasks []domain.Task, parentID, childID string) error {
	if parentID == childID {
		return invalid("task cannot be its own parent")
	}
	seen := map[string]bool{}
	cur := parentID
	for cur != "" && !seen[cur] {
		if cur == childID {
			return invalid("parent %s would create a cycle", parentID)
		}
		seen[cur] = true
		i := repo.IndexTask(tasks, cur)
		if i < 0 {
			return nil
		}
		cur = tasks[i].ParentID
	}
	return nil
}

func validateDeliverables(items []string) error {
	for _, d := range items {
		if !strings.HasSuffix(strings.ToLower(d), ".md") {
			return invalid("deliverable %q must be a .md file", d)
		}
	}
	return nil
}

func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return domain.FormatTime(t)
}

// dedupe keeps the first occurrence of each non-empty value.
func dedupe(items []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}
