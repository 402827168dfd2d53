package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"missionctl/internal/domain"
	"missionctl/internal/repo"
	"missionctl/internal/store"
)

// PickTask moves a task to in_progress for agentID and marks the agent working.
// A failed agent write is returned after the task event is emitted.
func (e Engine) PickTask(ctx context.Context, taskID, agentID string) (domain.Task, error) {
	if strings.TrimSpace(agentID) == "" {
		return domain.Task{}, invalid("agent is required")
	}
	var before, after domain.Task
	_, err := e.Repo.MutateTasks(ctx, func(tasks *[]domain.Task) error {
		i := repo.IndexTask(*tasks, taskID)
		if i < 0 {
			return repo.ErrNotFound
		}
		t := &(*tasks)[i]
		before = *t
		ts := e.timestamp()
		t.Status = domain.StatusInProgress
		t.Assignee = &agentID
		t.UpdatedAt = ts
		t.WorkLog = append(t.WorkLog, domain.WorkLogEntry{
			ID:        uuid.NewString(),
			Agent:     agentID,
			Action:    domain.WorkPicked,
			Note:      fmt.Sprintf("%s picked up this task", agentID),
			CreatedAt: ts,
		})
		after = *t
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.emitUpdate(ctx, before, after, agentID)
	if err := e.setAgentRuntime(ctx, agentID, domain.AgentWorking, &taskID); err != nil {
		return after, err
	}
	return after, nil
}

type CompleteOptions struct {
	TaskID       string
	AgentID      string
	Note         string
	Deliverables []string
	// Deliverable is the legacy single value; it is prepended when absent.
	Deliverable string
}

// CompleteTask hands a task to review and frees the agent.
func (e Engine) CompleteTask(ctx context.Context, opts CompleteOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.AgentID) == "" {
		return domain.Task{}, invalid("agent is required")
	}
	if err := validateDeliverables(opts.Deliverables); err != nil {
		return domain.Task{}, err
	}
	if opts.Deliverable != "" {
		if err := validateDeliverables([]string{opts.Deliverable}); err != nil {
			return domain.Task{}, err
		}
	}
	var before, after domain.Task
	_, err := e.Repo.MutateTasks(ctx, func(tasks *[]domain.Task) error {
		i := repo.IndexTask(*tasks, opts.TaskID)
		if i < 0 {
			return repo.ErrNotFound
		}
		t := &(*tasks)[i]
		before = *t
		ts := e.timestamp()
		note := opts.Note
		if note == "" {
			note = fmt.Sprintf("%s completed this task", opts.AgentID)
		}
		t.Status = domain.StatusReview
		if t.ReviewStatus == "" {
			t.ReviewStatus = domain.ReviewPending
		}
		t.UpdatedAt = ts
		t.WorkLog = append(t.WorkLog, domain.WorkLogEntry{
			ID:        uuid.NewString(),
			Agent:     opts.AgentID,
			Action:    domain.WorkCompleted,
			Note:      note,
			CreatedAt: ts,
		})
		if len(opts.Deliverables) > 0 {
			t.Deliverables = dedupe(append(append([]string{}, t.Deliverables...), opts.Deliverables...))
		}
		if opts.Deliverable != "" {
			t.Deliverable = opts.Deliverable
			if !contains(t.Deliverables, opts.Deliverable) {
				t.Deliverables = append([]string{opts.Deliverable}, t.Deliverables...)
			}
		}
		after = *t
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.emitUpdate(ctx, before, after, opts.AgentID)
	if err := e.setAgentRuntime(ctx, opts.AgentID, domain.AgentActive, nil); err != nil {
		return after, err
	}
	return after, nil
}

// LogWork records a progress or blocked note without changing status.
func (e Engine) LogWork(ctx context.Context, taskID, agentID string, action domain.WorkLogAction, note string) (domain.Task, error) {
	if action != domain.WorkProgress && action != domain.WorkBlocked {
		return domain.Task{}, invalid("work log action must be progress or blocked")
	}
	if strings.TrimSpace(agentID) == "" {
		return domain.Task{}, invalid("agent is required")
	}
	var after domain.Task
	_, err := e.Repo.MutateTasks(ctx, func(tasks *[]domain.Task) error {
		i := repo.IndexTask(*tasks, taskID)
		if i < 0 {
			return repo.ErrNotFound
		}
		t := &(*tasks)[i]
		ts := e.timestamp()
		t.UpdatedAt = ts
		t.WorkLog = append(t.WorkLog, domain.WorkLogEntry{
			ID:        uuid.NewString(),
			Agent:     agentID,
			Action:    action,
			Note:      note,
			CreatedAt: ts,
		})
		after = *t
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.emit(ctx, domain.Event{
		Type:     domain.EventTaskUpdated,
		AgentID:  agentID,
		TaskID:   after.ID,
		ParentID: after.ParentID,
		Message:  fmt.Sprintf("%s logged %s on %s", agentID, action, after.Title),
		Data:     map[string]any{"action": string(action), "note": note},
	})
	return after, nil
}

// AddComment appends a comment and returns the task with the new comment id.
func (e Engine) AddComment(ctx context.Context, taskID, author, content string) (domain.Task, string, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return domain.Task{}, "", invalid("author is required")
	}
	if strings.TrimSpace(content) == "" {
		return domain.Task{}, "", invalid("content is required")
	}
	commentID := uuid.NewString()
	var after domain.Task
	_, err := e.Repo.MutateTasks(ctx, func(tasks *[]domain.Task) error {
		i := repo.IndexTask(*tasks, taskID)
		if i < 0 {
			return repo.ErrNotFound
		}
		t := &(*tasks)[i]
		ts := e.timestamp()
		t.UpdatedAt = ts
		t.Comments = append(t.Comments, domain.Comment{ID: commentID, Author: author, Content: content, CreatedAt: ts})
		after = *t
		return nil
	})
	if err != nil {
		return domain.Task{}, "", err
	}
	return after, commentID, nil
}

type CommentResult struct {
	Task      domain.Task      `json:"task"`
	CommentID string           `json:"commentId"`
	Mentions  []domain.Mention `json:"mentions"`
}

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// ParseMentions returns the distinct lowercased @tokens accepted by valid,
// in order of first appearance.
func ParseMentions(text string, valid func(id string) bool) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		id := strings.ToLower(m[1])
		if seen[id] || (valid != nil && !valid(id)) {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// CommentWithMentions adds a comment from a roster member and records a
// Mention per distinct valid @agent. Mention failures are logged only.
func (e Engine) CommentWithMentions(ctx context.Context, taskID, author, content string) (CommentResult, error) {
	author = strings.ToLower(strings.TrimSpace(author))
	valid, err := e.agentValidator(ctx)
	if err != nil {
		return CommentResult{}, err
	}
	if author != "" && !valid(author) {
		return CommentResult{}, invalid("author %s is not a known agent", author)
	}
	task, commentID, err := e.AddComment(ctx, taskID, author, content)
	if err != nil {
		return CommentResult{}, err
	}
	res := CommentResult{Task: task, CommentID: commentID, Mentions: []domain.Mention{}}
	targets := ParseMentions(content, valid)
	if len(targets) == 0 {
		return res, nil
	}
	ts := e.timestamp()
	var created []domain.Mention
	for _, agent := range targets {
		created = append(created, domain.Mention{
			ID:             uuid.NewString(),
			TaskID:         task.ID,
			TaskTitle:      task.Title,
			CommentID:      commentID,
			Author:         author,
			MentionedAgent: agent,
			Content:        content,
			CreatedAt:      ts,
		})
	}
	if _, err := e.Repo.MutateMentions(ctx, func(ms *[]domain.Mention) error {
		*ms = append(*ms, created...)
		return nil
	}); err != nil {
		e.logger().Printf("engine: create mentions for comment %s failed: %v", commentID, err)
		return res, nil
	}
	res.Mentions = created
	return res, nil
}

// agentValidator accepts roster ids, or stored agent ids when no roster is configured.
func (e Engine) agentValidator(ctx context.Context) (func(string) bool, error) {
	if len(e.Roster.Agents) > 0 {
		return e.Roster.Has, nil
	}
	agents, err := e.Repo.Agents(ctx)
	if err != nil {
		return nil, err
	}
	return func(id string) bool { return repo.IndexAgent(agents, id) >= 0 }, nil
}

type ReviewResult struct {
	Task         domain.Task  `json:"task"`
	Parent       *domain.Task `json:"parent,omitempty"`
	AutoAdvanced bool         `json:"autoAdvanced"`
	// AdvanceError is set when the parent could not be moved to done.
	AdvanceError string `json:"advanceError,omitempty"`
}

// ReviewTask records a review decision. Approving the last unapproved child
// of a parent moves the parent to done through the review gate.
func (e Engine) ReviewTask(ctx context.Context, taskID, reviewer string, decision domain.ReviewStatus, notes string) (ReviewResult, error) {
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return ReviewResult{}, invalid("reviewer is required")
	}
	if decision != domain.ReviewApproved && decision != domain.ReviewChangesRequested {
		return ReviewResult{}, invalid("decision must be approved or changes_requested")
	}
	var after domain.Task
	var siblings []domain.Task
	var parent *domain.Task
	_, err := e.Repo.MutateTasks(ctx, func(tasks *[]domain.Task) error {
		i := repo.IndexTask(*tasks, taskID)
		if i < 0 {
			return repo.ErrNotFound
		}
		t := &(*tasks)[i]
		ts := e.timestamp()
		t.ReviewStatus = decision
		t.ReviewedBy = reviewer
		t.ReviewedAt = ts
		t.ReviewNotes = notes
		t.UpdatedAt = ts
		after = *t
		if t.ParentID != "" {
			siblings = repo.Children(*tasks, t.ParentID)
			if p := repo.IndexTask(*tasks, t.ParentID); p >= 0 {
				cp := (*tasks)[p]
				parent = &cp
			}
		}
		return nil
	})
	if err != nil {
		return ReviewResult{}, err
	}
	e.emit(ctx, domain.Event{
		Type:     domain.EventTaskUpdated,
		AgentID:  reviewer,
		TaskID:   after.ID,
		ParentID: after.ParentID,
		Message:  fmt.Sprintf("Review %s by %s", decision, reviewer),
		Data:     map[string]any{"decision": string(decision), "notes": notes},
	})

	res := ReviewResult{Task: after}
	if decision != domain.ReviewApproved || parent == nil || parent.Status == domain.StatusDone || !allApproved(siblings) {
		res.Parent = parent
		return res, nil
	}
	done := domain.StatusDone
	advanced, err := e.UpdateTask(ctx, parent.ID, TaskPatch{Status: &done, Actor: "system"})
	if err != nil {
		if errors.Is(err, ErrReviewGate) || errors.Is(err, repo.ErrNotFound) {
			e.logger().Printf("engine: auto-advance parent %s skipped: %v", parent.ID, err)
			res.Parent = parent
			res.AdvanceError = err.Error()
			return res, nil
		}
		return res, err
	}
	e.emit(ctx, domain.Event{
		Source:  domain.SourceSystem,
		Type:    domain.EventTaskUpdated,
		TaskID:  advanced.ID,
		Message: "Parent mission auto-advanced to DONE (all subtasks approved)",
		Data:    map[string]any{"autoAdvanced": true, "childId": after.ID},
	})
	res.Parent = &advanced
	res.AutoAdvanced = true
	return res, nil
}

func allApproved(tasks []domain.Task) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if t.ReviewStatus != domain.ReviewApproved {
			return false
		}
	}
	return true
}

type RunResult struct {
	ParentID      string      `json:"parentId"`
	Moved         int         `json:"moved"`
	TotalChildren int         `json:"totalChildren"`
	Parent        domain.Task `json:"parent"`
}

// RunMission starts a parent: backlog children and the parent itself move
// to todo in one write, then a comment is left on the parent.
func (e Engine) RunMission(ctx context.Context, parentID, actor string) (RunResult, error) {
	if actor == "" {
		actor = "main"
	}
	res := RunResult{ParentID: parentID}
	_, err := e.Repo.MutateTasks(ctx, func(tasks *[]domain.Task) error {
		p := repo.IndexTask(*tasks, parentID)
		if p < 0 {
			return repo.ErrNotFound
		}
		ts := e.timestamp()
		for i := range *tasks {
			t := &(*tasks)[i]
			if t.ParentID != parentID {
				continue
			}
			res.TotalChildren++
			if t.Status == domain.StatusBacklog {
				t.Status = domain.StatusTodo
				t.UpdatedAt = ts
				res.Moved++
			}
		}
		if (*tasks)[p].Status == domain.StatusBacklog {
			(*tasks)[p].Status = domain.StatusTodo
			(*tasks)[p].UpdatedAt = ts
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	parent, _, err := e.AddComment(ctx, parentID, actor,
		fmt.Sprintf("Run invoked: moved %d/%d subtasks to TODO.", res.Moved, res.TotalChildren))
	if err != nil {
		return res, err
	}
	res.Parent = parent
	e.emit(ctx, domain.Event{
		Type:    domain.EventTaskRun,
		AgentID: actor,
		TaskID:  parentID,
		Message: fmt.Sprintf("Run %s: moved %d/%d subtasks to TODO", parent.Title, res.Moved, res.TotalChildren),
		Data:    map[string]any{"moved": res.Moved, "totalChildren": res.TotalChildren},
	})
	return res, nil
}

// setAgentRuntime updates status and currentTask; unknown agents are ignored.
func (e Engine) setAgentRuntime(ctx context.Context, agentID string, status domain.AgentStatus, currentTask *string) error {
	_, err := e.Repo.MutateAgents(ctx, func(agents *[]domain.Agent) error {
		i := repo.IndexAgent(*agents, agentID)
		if i < 0 {
			return store.ErrUnchanged
		}
		a := &(*agents)[i]
		a.Status = status
		a.CurrentTask = currentTask
		a.LastSeen = e.timestamp()
		return nil
	})
	return err
}
