package repo

import (
	"context"
	"errors"
	"sort"

	"missionctl/internal/domain"
	"missionctl/internal/store"
)

// Repo gives typed access to the task, agent, mention and skip collections.
type Repo struct {
	Store *store.Store
}

var ErrNotFound = errors.New("not found")

// NoParent as TaskFilters.Parent selects top-level tasks only.
const NoParent = "none"

type TaskFilters struct {
	Status   domain.TaskStatus
	Assignee string
	Priority domain.Priority
	Parent   string
}

func (f TaskFilters) match(t domain.Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Assignee != "" && (t.Assignee == nil || *t.Assignee != f.Assignee) {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	switch f.Parent {
	case "":
	case NoParent:
		if t.ParentID != "" {
			return false
		}
	default:
		if t.ParentID != f.Parent {
			return false
		}
	}
	return true
}

func (r Repo) Tasks(ctx context.Context) ([]domain.Task, error) {
	var tasks []domain.Task
	if _, err := r.Store.Load(ctx, store.Tasks, &tasks); err != nil {
		return nil, err
	}
	normalize(tasks)
	return tasks, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	tasks, err := r.Tasks(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	if i := IndexTask(tasks, id); i >= 0 {
		return tasks[i], nil
	}
	return domain.Task{}, ErrNotFound
}

// ListTasks sorts by order ascending, newest first on ties.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	tasks, err := r.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if f.match(t) {
			res = append(res, t)
		}
	}
	SortByOrder(res)
	return res, nil
}

// MutateTasks runs fn over the normalised task collection as one atomic write.
func (r Repo) MutateTasks(ctx context.Context, fn func(tasks *[]domain.Task) error) ([]domain.Task, error) {
	return store.Mutate(ctx, r.Store, store.Tasks, func(tasks *[]domain.Task) error {
		normalize(*tasks)
		return fn(tasks)
	})
}

func SortByOrder(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Order != tasks[j].Order {
			return tasks[i].Order < tasks[j].Order
		}
		return tasks[i].CreatedAt > tasks[j].CreatedAt
	})
}

// SortByPriority sorts urgent first, newest first on ties.
func SortByPriority(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		pi, pj := tasks[i].Priority.Rank(), tasks[j].Priority.Rank()
		if pi != pj {
			return pi > pj
		}
		return tasks[i].CreatedAt > tasks[j].CreatedAt
	})
}

func IndexTask(tasks []domain.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// Children returns the tasks whose parentId is id.
func Children(tasks []domain.Task, id string) []domain.Task {
	var res []domain.Task
	for _, t := range tasks {
		if t.ParentID == id {
			res = append(res, t)
		}
	}
	return res
}

func normalize(tasks []domain.Task) {
	for i := range tasks {
		tasks[i].Normalize()
	}
}
