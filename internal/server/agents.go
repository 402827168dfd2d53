package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"missionctl/internal/domain"
	"missionctl/internal/engine"
)

type agentPath struct {
	ID string `path:"id"`
}

func (h handler) registerAgents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
		Tags:        []string{"agents"},
	}, func(ctx context.Context, _ *struct{}) (*body[AgentList], error) {
		agents, err := h.eng().ListAgents(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(AgentList{Agents: agents, Count: len(agents)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "seed-agents",
		Method:      http.MethodPost,
		Path:        "/agents/seed",
		Summary:     "Upsert the configured roster into the agents collection",
		Tags:        []string{"agents"},
	}, func(ctx context.Context, _ *struct{}) (*body[SeedResponse], error) {
		agents, changed, err := h.app.Seed(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(SeedResponse{Agents: agents, Changed: changed}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{id}",
		Summary:     "Get agent with assigned tasks",
		Tags:        []string{"agents"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *agentPath) (*body[AgentDetail], error) {
		e := h.eng()
		a, err := e.GetAgent(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		tasks, err := e.TasksByAgent(ctx, a.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return reply(AgentDetail{Agent: a, Tasks: tasks}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-agent",
		Method:      http.MethodPatch,
		Path:        "/agents/{id}",
		Summary:     "Update agent runtime state",
		Tags:        []string{"agents"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateAgentRequest
	}) (*body[domain.Agent], error) {
		patch := engine.AgentPatch{CurrentTask: input.Body.CurrentTask}
		if input.Body.Status != nil {
			s := domain.AgentStatus(*input.Body.Status)
			patch.Status = &s
		}
		a, err := h.eng().UpdateAgent(ctx, input.ID, patch)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-mentions",
		Method:      http.MethodGet,
		Path:        "/agents/{id}/mentions",
		Summary:     "List mentions of an agent, newest first",
		Tags:        []string{"agents"},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Unread bool   `query:"unread"`
	}) (*body[MentionList], error) {
		ms, err := h.eng().MentionsFor(ctx, input.ID, input.Unread)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(mentionList(ms)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-mentions-read",
		Method:      http.MethodPost,
		Path:        "/agents/{id}/mentions/read",
		Summary:     "Mark mentions read",
		Description: "Without ids every mention of the agent is marked read.",
		Tags:        []string{"agents"},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body *MarkReadRequest
	}) (*body[MarkReadResponse], error) {
		var (
			n   int
			err error
		)
		if input.Body != nil && len(input.Body.IDs) > 0 {
			n, err = h.eng().MarkMentionsRead(ctx, input.Body.IDs)
		} else {
			n, err = h.eng().MarkAllMentionsRead(ctx, input.ID)
		}
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(MarkReadResponse{Updated: n}), nil
	})
}

type AgentDetail struct {
	Agent domain.Agent  `json:"agent"`
	Tasks []domain.Task `json:"tasks"`
}
