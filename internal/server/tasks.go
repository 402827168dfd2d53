package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"missionctl/internal/domain"
	"missionctl/internal/engine"
	"missionctl/internal/repo"
)

type taskPath struct {
	ID string `path:"id"`
}

var taskErrors = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func (h handler) registerTasks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Tags:        []string{"tasks"},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		Assignee string `query:"assignee"`
		Priority string `query:"priority"`
		ParentID string `query:"parentId" doc:"parent id, or none for top-level tasks"`
	}) (*body[TaskList], error) {
		tasks, err := h.eng().ListTasks(ctx, repo.TaskFilters{
			Status:   domain.TaskStatus(input.Status),
			Assignee: input.Assignee,
			Priority: domain.Priority(input.Priority),
			Parent:   input.ParentID,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(taskList(tasks)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		Tags:          []string{"tasks"},
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest
	}) (*body[domain.Task], error) {
		opts := engine.TaskCreateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Priority:    domain.Priority(input.Body.Priority),
			Assignee:    input.Body.Assignee,
			CreatedBy:   input.Body.CreatedBy,
			Tags:        input.Body.Tags,
			ParentID:    input.Body.ParentID,
		}
		if opts.CreatedBy == "" {
			opts.CreatedBy = actorFromContext(ctx)
		}
		if input.Body.DueDate != "" {
			due, err := parseTime("dueDate", input.Body.DueDate)
			if err != nil {
				return nil, err
			}
			opts.DueDate = &due
		}
		t, err := h.eng().CreateTask(ctx, opts)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-orphans",
		Method:      http.MethodGet,
		Path:        "/tasks/orphans",
		Summary:     "List tasks whose parent no longer exists",
		Tags:        []string{"tasks"},
	}, func(ctx context.Context, _ *struct{}) (*body[TaskList], error) {
		tasks, err := h.eng().Orphans(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(taskList(tasks)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "prune-orphans",
		Method:      http.MethodPost,
		Path:        "/tasks/orphans/prune",
		Summary:     "Detach orphaned tasks from their missing parent",
		Tags:        []string{"tasks"},
	}, func(ctx context.Context, _ *struct{}) (*body[TaskList], error) {
		tasks, err := h.eng().PruneOrphans(ctx, actorFromContext(ctx))
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(taskList(tasks)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Tags:        []string{"tasks"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*body[domain.Task], error) {
		t, err := h.eng().GetTask(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Description: "Moving a parent to done requires every subtask to be approved.",
		Tags:        []string{"tasks"},
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateTaskRequest
	}) (*body[domain.Task], error) {
		patch, err := taskPatch(input.Body)
		if err != nil {
			return nil, err
		}
		patch.Actor = actorFromContext(ctx)
		t, err := h.eng().UpdateTask(ctx, input.ID, patch)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task",
		Tags:        []string{"tasks"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*body[DeleteResponse], error) {
		ok, err := h.eng().DeleteTask(ctx, input.ID, actorFromContext(ctx))
		if err != nil {
			return nil, h.handleError(err)
		}
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "task not found", map[string]any{"id": input.ID})
		}
		return reply(DeleteResponse{Deleted: true, ID: input.ID}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pick-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/pick",
		Summary:     "Pick task",
		Tags:        []string{"tasks"},
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body *PickTaskRequest
	}) (*body[domain.Task], error) {
		agent := actorFromContext(ctx)
		if input.Body != nil && input.Body.AgentID != "" {
			agent = input.Body.AgentID
		}
		t, err := h.eng().PickTask(ctx, input.ID, agent)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/complete",
		Summary:     "Complete task and hand it to review",
		Tags:        []string{"tasks"},
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body *CompleteTaskRequest
	}) (*body[domain.Task], error) {
		opts := engine.CompleteOptions{TaskID: input.ID, AgentID: actorFromContext(ctx)}
		if b := input.Body; b != nil {
			if b.AgentID != "" {
				opts.AgentID = b.AgentID
			}
			opts.Note = b.Note
			opts.Deliverables = b.Deliverables
			opts.Deliverable = b.Deliverable
		}
		t, err := h.eng().CompleteTask(ctx, opts)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "log-work",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/worklog",
		Summary:     "Record progress or a blocker",
		Tags:        []string{"tasks"},
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body WorkLogRequest
	}) (*body[domain.Task], error) {
		agent := input.Body.AgentID
		if agent == "" {
			agent = actorFromContext(ctx)
		}
		t, err := h.eng().LogWork(ctx, input.ID, agent, domain.WorkLogAction(input.Body.Action), input.Body.Note)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/comments",
		Summary:       "Comment on a task",
		Description:   "The author must be a roster agent. @agent tokens that name a roster member create mentions.",
		Tags:          []string{"tasks"},
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body CommentRequest
	}) (*body[engine.CommentResult], error) {
		author := input.Body.Author
		if p, ok := principalFromContext(ctx); ok && author == "" && p.ActorID != DefaultActor {
			author = p.ActorID
		}
		res, err := h.eng().CommentWithMentions(ctx, input.ID, author, input.Body.Content)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/review",
		Summary:     "Review a subtask",
		Description: "Approving the last unapproved subtask moves the parent to done.",
		Tags:        []string{"tasks"},
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ReviewRequest
	}) (*body[engine.ReviewResult], error) {
		reviewer := input.Body.Reviewer
		if reviewer == "" {
			reviewer = actorFromContext(ctx)
		}
		res, err := h.eng().ReviewTask(ctx, input.ID, reviewer, domain.ReviewStatus(input.Body.Decision), input.Body.Notes)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/run",
		Summary:     "Start a mission",
		Description: "Moves backlog subtasks and the parent to todo.",
		Tags:        []string{"tasks"},
		Errors:      taskErrors,
	}, func(ctx context.Context, input *taskPath) (*body[engine.RunResult], error) {
		actor := ""
		if p, ok := principalFromContext(ctx); ok && p.ActorID != DefaultActor {
			actor = p.ActorID
		}
		res, err := h.eng().RunMission(ctx, input.ID, actor)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(res), nil
	})
}

func taskPatch(in UpdateTaskRequest) (engine.TaskPatch, error) {
	p := engine.TaskPatch{
		Title:       in.Title,
		Description: in.Description,
		Assignee:    in.Assignee,
		Order:       in.Order,
		ReviewedBy:  in.ReviewedBy,
		ReviewNotes: in.ReviewNotes,
		ParentID:    in.ParentID,
	}
	if in.Status != nil {
		s := domain.TaskStatus(*in.Status)
		p.Status = &s
	}
	if in.Priority != nil {
		pr := domain.Priority(*in.Priority)
		p.Priority = &pr
	}
	if in.ReviewStatus != nil {
		rs := domain.ReviewStatus(*in.ReviewStatus)
		p.ReviewStatus = &rs
	}
	if in.Tags != nil {
		tags := in.Tags
		p.Tags = &tags
	}
	if in.Deliverables != nil {
		d := in.Deliverables
		p.Deliverables = &d
	}
	p.Deliverable = in.Deliverable
	if in.DueDate != nil {
		due, err := optionalTime("dueDate", *in.DueDate)
		if err != nil {
			return p, err
		}
		p.DueDate = &due
	}
	if in.ReviewedAt != nil {
		at, err := optionalTime("reviewedAt", *in.ReviewedAt)
		if err != nil {
			return p, err
		}
		p.ReviewedAt = &at
	}
	return p, nil
}

// optionalTime maps an empty value to the zero time, which clears the field.
func optionalTime(field, v string) (time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return time.Time{}, nil
	}
	return parseTime(field, v)
}

// parseTime accepts full timestamps and plain YYYY-MM-DD dates.
func parseTime(field, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := domain.ParseTime(v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Time{}, newAPIError(http.StatusBadRequest, "bad_request", "invalid "+field, map[string]any{"field": field, "value": v})
}
