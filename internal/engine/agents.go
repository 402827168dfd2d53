package engine

import (
	"context"
	"fmt"
	"strings"

	"missionctl/internal/config"
	"missionctl/internal/domain"
	"missionctl/internal/repo"
	"missionctl/internal/store"
)

// MaxSkips bounds the persisted skip set; the oldest keys are dropped first.
const MaxSkips = 50000

// SeedAgents upserts roster identities. Runtime fields of existing agents are
// kept and nothing is written when the roster is already in sync.
func (e Engine) SeedAgents(ctx context.Context, roster config.Roster) ([]domain.Agent, bool, error) {
	changed := false
	agents, err := e.Repo.MutateAgents(ctx, func(agents *[]domain.Agent) error {
		ts := e.timestamp()
		for _, r := range roster.Agents {
			i := repo.IndexAgent(*agents, r.ID)
			if i < 0 {
				*agents = append(*agents, domain.Agent{
					ID:       r.ID,
					Name:     r.Name,
					Emoji:    r.Emoji,
					Role:     r.Role,
					Focus:    r.Focus,
					Status:   domain.AgentActive,
					LastSeen: ts,
				})
				changed = true
				continue
			}
			a := &(*agents)[i]
			if a.Name != r.Name || a.Emoji != r.Emoji || a.Role != r.Role || a.Focus != r.Focus {
				a.Name, a.Emoji, a.Role, a.Focus = r.Name, r.Emoji, r.Role, r.Focus
				changed = true
			}
		}
		if !changed {
			return store.ErrUnchanged
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if agents == nil {
		agents = []domain.Agent{}
	}
	return agents, changed, nil
}

func (e Engine) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	agents, err := e.Repo.Agents(ctx)
	if err != nil {
		return nil, err
	}
	if agents == nil {
		agents = []domain.Agent{}
	}
	return agents, nil
}

func (e Engine) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return e.Repo.GetAgent(ctx, id)
}

type AgentPatch struct {
	Status *domain.AgentStatus
	// CurrentTask set to "" clears it.
	CurrentTask *string
}

// UpdateAgent changes runtime fields and refreshes lastSeen.
func (e Engine) UpdateAgent(ctx context.Context, id string, patch AgentPatch) (domain.Agent, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return domain.Agent{}, invalid("invalid agent status %q", *patch.Status)
	}
	var after domain.Agent
	_, err := e.Repo.MutateAgents(ctx, func(agents *[]domain.Agent) error {
		i := repo.IndexAgent(*agents, id)
		if i < 0 {
			return repo.ErrNotFound
		}
		a := &(*agents)[i]
		if patch.Status != nil {
			a.Status = *patch.Status
		}
		if patch.CurrentTask != nil {
			a.CurrentTask = optionalString(*patch.CurrentTask)
		}
		a.LastSeen = e.timestamp()
		after = *a
		return nil
	})
	if err != nil {
		return domain.Agent{}, err
	}
	return after, nil
}

func (e Engine) MentionsFor(ctx context.Context, agentID string, unreadOnly bool) ([]domain.Mention, error) {
	return e.Repo.MentionsFor(ctx, agentID, unreadOnly)
}

// MarkMentionsRead flags the given ids and returns how many changed.
func (e Engine) MarkMentionsRead(ctx context.Context, ids []string) (int, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	return e.markRead(ctx, func(m domain.Mention) bool { return want[m.ID] })
}

func (e Engine) MarkAllMentionsRead(ctx context.Context, agentID string) (int, error) {
	return e.markRead(ctx, func(m domain.Mention) bool { return strings.EqualFold(m.MentionedAgent, agentID) })
}

func (e Engine) markRead(ctx context.Context, match func(domain.Mention) bool) (int, error) {
	n := 0
	_, err := e.Repo.MutateMentions(ctx, func(ms *[]domain.Mention) error {
		for i := range *ms {
			if !(*ms)[i].Read && match((*ms)[i]) {
				(*ms)[i].Read = true
				n++
			}
		}
		if n == 0 {
			return store.ErrUnchanged
		}
		return nil
	})
	return n, err
}

func (e Engine) ListSkips(ctx context.Context) ([]string, error) {
	return e.Repo.Skips(ctx)
}

// AddSkip hides an activity key from the feed.
func (e Engine) AddSkip(ctx context.Context, key, message, actor string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return invalid("key is required")
	}
	_, err := e.Repo.MutateSkips(ctx, func(keys *[]string) error {
		if contains(*keys, key) {
			return store.ErrUnchanged
		}
		*keys = append(*keys, key)
		if len(*keys) > MaxSkips {
			*keys = (*keys)[len(*keys)-MaxSkips:]
		}
		return nil
	})
	if err != nil {
		return err
	}
	data := map[string]any{"key": key}
	if message != "" {
		data["message"] = message
	}
	e.emit(ctx, domain.Event{
		Type:    domain.EventActivitySkip,
		AgentID: actor,
		Message: fmt.Sprintf("Skipped activity item (%s)", key),
		Data:    data,
	})
	return nil
}

func (e Engine) RemoveSkip(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return invalid("key is required")
	}
	_, err := e.Repo.MutateSkips(ctx, func(keys *[]string) error {
		out := (*keys)[:0]
		for _, k := range *keys {
			if k != key {
				out = append(out, k)
			}
		}
		if len(out) == len(*keys) {
			return store.ErrUnchanged
		}
		*keys = out
		return nil
	})
	return err
}
