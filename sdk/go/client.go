package missionctlsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal missionctl HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	ActorID     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Status       string   `json:"status"`
	Priority     string   `json:"priority"`
	Assignee     *string  `json:"assignee"`
	CreatedBy    string   `json:"createdBy"`
	CreatedAt    string   `json:"createdAt"`
	UpdatedAt    string   `json:"updatedAt"`
	Tags         []string `json:"tags"`
	Deliverables []string `json:"deliverables,omitempty"`
	ReviewStatus string   `json:"reviewStatus,omitempty"`
	ReviewedBy   string   `json:"reviewedBy,omitempty"`
	ParentID     string   `json:"parentId,omitempty"`
}

type NewTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ParentID    string   `json:"parentId,omitempty"`
}

type ReviewResult struct {
	Task         Task   `json:"task"`
	Parent       *Task  `json:"parent,omitempty"`
	AutoAdvanced bool   `json:"autoAdvanced"`
	AdvanceError string `json:"advanceError,omitempty"`
}

type LedgerEntry struct {
	ID   string         `json:"id"`
	Kind string         `json:"kind"`
	At   string         `json:"at"`
	EUR  float64        `json:"eur"`
	Note string         `json:"note,omitempty"`
	Meta map[string]any `json:"meta,omitempty"`
}

type BudgetState struct {
	Tier        string        `json:"tier"`
	EURCap      float64       `json:"eurCap"`
	EURUsed     float64       `json:"eurUsed"`
	EURReserved float64       `json:"eurReserved"`
	Locked      bool          `json:"locked"`
	UpdatedAt   string        `json:"updatedAt"`
	Ledger      []LedgerEntry `json:"ledger"`
}

type Reservation struct {
	OK            bool        `json:"ok"`
	ReservationID string      `json:"reservationId"`
	State         BudgetState `json:"state"`
}

// Event represents a log entry.
type Event struct {
	ID       string         `json:"id"`
	TS       string         `json:"ts"`
	Source   string         `json:"source"`
	Type     string         `json:"type"`
	AgentID  string         `json:"agentId,omitempty"`
	TaskID   string         `json:"taskId,omitempty"`
	ParentID string         `json:"parentId,omitempty"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsBudgetRefusal reports whether err is a 402 from reserve.
func IsBudgetRefusal(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusPaymentRequired
}

func (c *Client) CreateTask(ctx context.Context, in NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListTasks filters by status when non-empty.
func (c *Client) ListTasks(ctx context.Context, status string) ([]Task, error) {
	endpoint := "tasks"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Tasks, err
}

func (c *Client) SetStatus(ctx context.Context, id, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(id), map[string]any{"status": status}, &resp)
	return resp, err
}

func (c *Client) PickTask(ctx context.Context, id, agentID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/pick", url.PathEscape(id)), map[string]any{"agentId": agentID}, &resp)
	return resp, err
}

func (c *Client) CompleteTask(ctx context.Context, id, agentID, note string, deliverables []string) (Task, error) {
	body := map[string]any{"agentId": agentID}
	if note != "" {
		body["note"] = note
	}
	if len(deliverables) > 0 {
		body["deliverables"] = deliverables
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/complete", url.PathEscape(id)), body, &resp)
	return resp, err
}

// Review records approved or changes_requested for a task.
func (c *Client) Review(ctx context.Context, id, reviewer, decision, notes string) (ReviewResult, error) {
	body := map[string]any{"decision": decision, "reviewer": reviewer}
	if notes != "" {
		body["notes"] = notes
	}
	var resp ReviewResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/review", url.PathEscape(id)), body, &resp)
	return resp, err
}

func (c *Client) Budget(ctx context.Context) (BudgetState, error) {
	var resp BudgetState
	err := c.do(ctx, http.MethodGet, "budget", nil, &resp)
	return resp, err
}

// Reserve holds eur against the cap. A refusal is an *APIError with status
// 402 and code BUDGET_LOCKED or INSUFFICIENT_BUDGET.
func (c *Client) Reserve(ctx context.Context, eur float64, note string) (Reservation, error) {
	body := map[string]any{"eur": eur}
	if note != "" {
		body["note"] = note
	}
	var resp Reservation
	err := c.do(ctx, http.MethodPost, "budget/reserve", body, &resp)
	return resp, err
}

func (c *Client) Commit(ctx context.Context, reservationID string, eur float64, note string) (BudgetState, error) {
	body := map[string]any{"reservationId": reservationID, "eur": eur}
	if note != "" {
		body["note"] = note
	}
	var resp BudgetState
	err := c.do(ctx, http.MethodPost, "budget/commit", body, &resp)
	return resp, err
}

func (c *Client) Release(ctx context.Context, reservationID, note string) (BudgetState, error) {
	body := map[string]any{"reservationId": reservationID}
	if note != "" {
		body["note"] = note
	}
	var resp BudgetState
	err := c.do(ctx, http.MethodPost, "budget/release", body, &resp)
	return resp, err
}

// Events returns recent events, oldest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Events, err
}

// PostEvent ingests an event; empty source and type default server side.
func (c *Client) PostEvent(ctx context.Context, evt Event) (Event, error) {
	body := map[string]any{}
	for k, v := range map[string]string{
		"source":   evt.Source,
		"type":     evt.Type,
		"agentId":  evt.AgentID,
		"taskId":   evt.TaskID,
		"parentId": evt.ParentID,
		"message":  evt.Message,
	} {
		if v != "" {
			body[k] = v
		}
	}
	if len(evt.Data) > 0 {
		body["data"] = evt.Data
	}
	var resp Event
	err := c.do(ctx, http.MethodPost, "events", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}
