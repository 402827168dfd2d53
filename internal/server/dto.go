package server

import (
	"missionctl/internal/domain"
	"missionctl/internal/usage"
)

// body wraps a response payload.
type body[T any] struct {
	Body T
}

func reply[T any](v T) *body[T] {
	return &body[T]{Body: v}
}

// Request payloads

type CreateTaskRequest struct {
	Title       string   `json:"title" minLength:"1"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Assignee    string   `json:"assignee,omitempty"`
	CreatedBy   string   `json:"createdBy,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	DueDate     string   `json:"dueDate,omitempty"`
	ParentID    string   `json:"parentId,omitempty"`
}

// UpdateTaskRequest is a partial update; absent fields are unchanged and an
// empty string clears optional text fields.
type UpdateTaskRequest struct {
	Title        *string  `json:"title,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Status       *string  `json:"status,omitempty" enum:"backlog,todo,in_progress,review,done"`
	Priority     *string  `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Assignee     *string  `json:"assignee,omitempty"`
	Order        *float64 `json:"order,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	DueDate      *string  `json:"dueDate,omitempty"`
	Deliverables []string `json:"deliverables,omitempty"`
	Deliverable  *string  `json:"deliverable,omitempty"`
	ReviewStatus *string  `json:"reviewStatus,omitempty"`
	ReviewedBy   *string  `json:"reviewedBy,omitempty"`
	ReviewedAt   *string  `json:"reviewedAt,omitempty"`
	ReviewNotes  *string  `json:"reviewNotes,omitempty"`
	ParentID     *string  `json:"parentId,omitempty"`
}

type PickTaskRequest struct {
	AgentID string `json:"agentId,omitempty"`
}

type CompleteTaskRequest struct {
	AgentID      string   `json:"agentId,omitempty"`
	Note         string   `json:"note,omitempty"`
	Deliverables []string `json:"deliverables,omitempty"`
	Deliverable  string   `json:"deliverable,omitempty"`
}

type WorkLogRequest struct {
	AgentID string `json:"agentId,omitempty"`
	Action  string `json:"action" enum:"progress,blocked"`
	Note    string `json:"note,omitempty"`
}

type CommentRequest struct {
	Author  string `json:"author,omitempty"`
	Content string `json:"content" minLength:"1"`
}

type ReviewRequest struct {
	Decision string `json:"decision" enum:"approved,changes_requested"`
	Reviewer string `json:"reviewer,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

type UpdateAgentRequest struct {
	Status      *string `json:"status,omitempty" enum:"active,working,idle,offline"`
	CurrentTask *string `json:"currentTask,omitempty"`
}

type MarkReadRequest struct {
	IDs []string `json:"ids,omitempty"`
}

type NoteRequest struct {
	Note string `json:"note,omitempty"`
}

type InitBudgetRequest struct {
	Tier   string   `json:"tier,omitempty"`
	EURCap *float64 `json:"eurCap,omitempty"`
}

type ReserveRequest struct {
	EUR  float64        `json:"eur"`
	Note string         `json:"note,omitempty"`
	Meta map[string]any `json:"meta,omitempty"`
}

type CommitRequest struct {
	ReservationID string         `json:"reservationId" minLength:"1"`
	EUR           float64        `json:"eur"`
	Note          string         `json:"note,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

type ReleaseRequest struct {
	ReservationID string `json:"reservationId" minLength:"1"`
	Note          string `json:"note,omitempty"`
}

type AddUsageRequest struct {
	EUR float64 `json:"eur"`
}

type SkipRequest struct {
	Key     string `json:"key" minLength:"1"`
	Message string `json:"message,omitempty"`
}

// Response payloads

type TaskList struct {
	Tasks []domain.Task `json:"tasks"`
	Count int           `json:"count"`
}

type DeleteResponse struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

type AgentList struct {
	Agents []domain.Agent `json:"agents"`
	Count  int            `json:"count"`
}

type SeedResponse struct {
	Agents  []domain.Agent `json:"agents"`
	Changed bool           `json:"changed"`
}

type MentionList struct {
	Mentions []domain.Mention `json:"mentions"`
	Count    int              `json:"count"`
}

type MarkReadResponse struct {
	Updated int `json:"updated"`
}

type EventList struct {
	Events []domain.Event `json:"events"`
	Count  int            `json:"count"`
}

type SkipList struct {
	Keys []string `json:"keys"`
}

type UsageResponse struct {
	State   domain.UsageState `json:"state"`
	Summary usage.Summary     `json:"summary"`
}

func taskList(tasks []domain.Task) TaskList {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return TaskList{Tasks: tasks, Count: len(tasks)}
}

func mentionList(ms []domain.Mention) MentionList {
	if ms == nil {
		ms = []domain.Mention{}
	}
	return MentionList{Mentions: ms, Count: len(ms)}
}

// IngestEventRequest accepts events from gateways and the UI. Unknown fields
// are tolerated.
type IngestEventRequest struct {
	_        struct{}       `json:"-" additionalProperties:"true"`
	Source   string         `json:"source,omitempty"`
	Type     string         `json:"type,omitempty"`
	AgentID  string         `json:"agentId,omitempty"`
	TaskID   string         `json:"taskId,omitempty"`
	ParentID string         `json:"parentId,omitempty"`
	Message  string         `json:"message,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}
