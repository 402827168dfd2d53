package domain

import "time"

// TimeLayout matches the millisecond ISO-8601 form used across persisted records.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout as well as plain RFC3339 values.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

type TaskStatus string

const (
	StatusBacklog    TaskStatus = "backlog"
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusReview     TaskStatus = "review"
	StatusDone       TaskStatus = "done"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Rank orders priorities from low (1) to urgent (4); unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

type ReviewStatus string

const (
	ReviewPending          ReviewStatus = "pending"
	ReviewApproved         ReviewStatus = "approved"
	ReviewChangesRequested ReviewStatus = "changes_requested"
)

func (r ReviewStatus) Valid() bool {
	switch r {
	case ReviewPending, ReviewApproved, ReviewChangesRequested:
		return true
	}
	return false
}

type AgentStatus string

const (
	AgentActive  AgentStatus = "active"
	AgentWorking AgentStatus = "working"
	AgentIdle    AgentStatus = "idle"
	AgentOffline AgentStatus = "offline"
)

func (s AgentStatus) Valid() bool {
	switch s {
	case AgentActive, AgentWorking, AgentIdle, AgentOffline:
		return true
	}
	return false
}

type WorkLogAction string

const (
	WorkPicked    WorkLogAction = "picked"
	WorkProgress  WorkLogAction = "progress"
	WorkBlocked   WorkLogAction = "blocked"
	WorkCompleted WorkLogAction = "completed"
	WorkDropped   WorkLogAction = "dropped"
)

func (a WorkLogAction) Valid() bool {
	switch a {
	case WorkPicked, WorkProgress, WorkBlocked, WorkCompleted, WorkDropped:
		return true
	}
	return false
}

type Comment struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt" format:"date-time"`
}

type WorkLogEntry struct {
	ID        string        `json:"id"`
	Agent     string        `json:"agent"`
	Action    WorkLogAction `json:"action" enum:"picked,progress,blocked,completed,dropped"`
	Note      string        `json:"note"`
	CreatedAt string        `json:"createdAt" format:"date-time"`
}

type Task struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Status      TaskStatus     `json:"status" enum:"backlog,todo,in_progress,review,done"`
	Priority    Priority       `json:"priority" enum:"low,medium,high,urgent"`
	Assignee    *string        `json:"assignee"`
	CreatedBy   string         `json:"createdBy"`
	CreatedAt   string         `json:"createdAt" format:"date-time"`
	UpdatedAt   string         `json:"updatedAt" format:"date-time"`
	Order       float64        `json:"order"`
	DueDate     string         `json:"dueDate,omitempty" format:"date-time"`
	Tags        []string       `json:"tags"`
	Comments    []Comment      `json:"comments"`
	WorkLog     []WorkLogEntry `json:"workLog"`

	// Deliverable is the legacy single-artifact field; Deliverables supersedes it.
	Deliverable  string   `json:"deliverable,omitempty"`
	Deliverables []string `json:"deliverables,omitempty"`

	ReviewStatus ReviewStatus `json:"reviewStatus,omitempty" enum:"pending,approved,changes_requested"`
	ReviewedBy   string       `json:"reviewedBy,omitempty"`
	ReviewedAt   string       `json:"reviewedAt,omitempty" format:"date-time"`
	ReviewNotes  string       `json:"reviewNotes,omitempty"`

	ParentID string `json:"parentId,omitempty"`
}

// Normalize fills nil slices and folds the legacy deliverable into Deliverables.
func (t *Task) Normalize() {
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Comments == nil {
		t.Comments = []Comment{}
	}
	if t.WorkLog == nil {
		t.WorkLog = []WorkLogEntry{}
	}
	if t.Deliverable != "" && !contains(t.Deliverables, t.Deliverable) {
		t.Deliverables = append([]string{t.Deliverable}, t.Deliverables...)
	}
}

type Agent struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Emoji       string      `json:"emoji"`
	Role        string      `json:"role"`
	Focus       string      `json:"focus"`
	Status      AgentStatus `json:"status" enum:"active,working,idle,offline"`
	CurrentTask *string     `json:"currentTask"`
	LastSeen    string      `json:"lastSeen" format:"date-time"`
}

type Mention struct {
	ID             string `json:"id"`
	TaskID         string `json:"taskId"`
	TaskTitle      string `json:"taskTitle"`
	CommentID      string `json:"commentId"`
	Author         string `json:"author"`
	MentionedAgent string `json:"mentionedAgent"`
	Content        string `json:"content"`
	CreatedAt      string `json:"createdAt" format:"date-time"`
	Read           bool   `json:"read"`
}

type LedgerKind string

const (
	LedgerReserve   LedgerKind = "reserve"
	LedgerCommit    LedgerKind = "commit"
	LedgerRelease   LedgerKind = "release"
	LedgerAdjustCap LedgerKind = "adjust_cap"
	LedgerLock      LedgerKind = "lock"
	LedgerUnlock    LedgerKind = "unlock"
)

type LedgerEntry struct {
	ID   string         `json:"id"`
	Kind LedgerKind     `json:"kind" enum:"reserve,commit,release,adjust_cap,lock,unlock"`
	EUR  float64        `json:"eur"`
	Note string         `json:"note,omitempty"`
	At   string         `json:"at" format:"date-time"`
	Meta map[string]any `json:"meta,omitempty"`
}

type BudgetState struct {
	Tier        string        `json:"tier"`
	EURCap      float64       `json:"eurCap"`
	EURUsed     float64       `json:"eurUsed"`
	EURReserved float64       `json:"eurReserved"`
	Locked      bool          `json:"locked"`
	UpdatedAt   string        `json:"updatedAt" format:"date-time"`
	Ledger      []LedgerEntry `json:"ledger"`
}

type EventSource string

const (
	SourceSystem   EventSource = "system"
	SourceUI       EventSource = "ui"
	SourceExternal EventSource = "external"
)

const (
	EventTaskCreated    = "task.created"
	EventTaskUpdated    = "task.updated"
	EventTaskMoved      = "task.moved"
	EventTaskOrdered    = "task.ordered"
	EventTaskDeleted    = "task.deleted"
	EventTaskRun        = "task.run"
	EventBudgetLocked   = "budget.locked"
	EventBudgetUnlocked = "budget.unlocked"
	EventExternal       = "external.event"
	EventActivitySkip   = "activity.skipped"
	EventError          = "error"
)

type Event struct {
	ID       string         `json:"id"`
	TS       string         `json:"ts" format:"date-time"`
	Source   EventSource    `json:"source" enum:"system,ui,external"`
	Type     string         `json:"type"`
	AgentID  string         `json:"agentId,omitempty"`
	TaskID   string         `json:"taskId,omitempty"`
	ParentID string         `json:"parentId,omitempty"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
}

type UsageState struct {
	MonthKey     string  `json:"monthKey"`
	TodayKey     string  `json:"todayKey"`
	EURUsedMonth float64 `json:"eurUsed"`
	EURUsedToday float64 `json:"eurUsedToday"`
	UpdatedAt    string  `json:"updatedAt" format:"date-time"`
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}
