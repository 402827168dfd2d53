package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"missionctl/internal/domain"
	"missionctl/internal/events"
)

const maxEventLimit = 1000

func (h handler) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Recent events, oldest first",
		Tags:        []string{"events"},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0"`
	}) (*body[EventList], error) {
		limit := normalizeLimit(input.Limit, events.DefaultListLimit, maxEventLimit)
		evts := h.app.Events.List(ctx, limit)
		if evts == nil {
			evts = []domain.Event{}
		}
		return reply(EventList{Events: evts, Count: len(evts)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "ingest-event",
		Method:        http.MethodPost,
		Path:          "/events",
		Summary:       "Append an external event",
		Description:   "Source defaults to external and type to external.event.",
		Tags:          []string{"events"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body *IngestEventRequest
	}) (*body[domain.Event], error) {
		var in IngestEventRequest
		if input.Body != nil {
			in = *input.Body
		}
		evt := domain.Event{
			Source:   ingestSource(in.Source),
			Type:     strings.TrimSpace(in.Type),
			AgentID:  in.AgentID,
			TaskID:   in.TaskID,
			ParentID: in.ParentID,
			Message:  in.Message,
			Data:     in.Data,
		}
		if evt.Type == "" {
			evt.Type = domain.EventExternal
		}
		return reply(h.app.Events.Append(ctx, evt)), nil
	})
}

func ingestSource(s string) domain.EventSource {
	switch src := domain.EventSource(strings.TrimSpace(s)); src {
	case domain.SourceSystem, domain.SourceUI, domain.SourceExternal:
		return src
	}
	return domain.SourceExternal
}

func (h handler) registerSkips(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-skips",
		Method:      http.MethodGet,
		Path:        "/skips",
		Summary:     "Activity keys hidden from the feed",
		Tags:        []string{"events"},
	}, func(ctx context.Context, _ *struct{}) (*body[SkipList], error) {
		keys, err := h.eng().ListSkips(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		if keys == nil {
			keys = []string{}
		}
		return reply(SkipList{Keys: keys}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-skip",
		Method:        http.MethodPost,
		Path:          "/skips",
		Summary:       "Hide an activity key",
		Tags:          []string{"events"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body SkipRequest
	}) (*body[SkipList], error) {
		e := h.eng()
		if err := e.AddSkip(ctx, input.Body.Key, input.Body.Message, actorFromContext(ctx)); err != nil {
			return nil, h.handleError(err)
		}
		keys, err := e.ListSkips(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(SkipList{Keys: keys}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-skip",
		Method:      http.MethodDelete,
		Path:        "/skips/{key}",
		Summary:     "Show an activity key again",
		Tags:        []string{"events"},
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*body[SkipList], error) {
		e := h.eng()
		if err := e.RemoveSkip(ctx, input.Key); err != nil {
			return nil, h.handleError(err)
		}
		keys, err := e.ListSkips(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		if keys == nil {
			keys = []string{}
		}
		return reply(SkipList{Keys: keys}), nil
	})
}
