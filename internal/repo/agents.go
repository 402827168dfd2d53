package repo

import (
	"context"
	"sort"
	"strings"

	"missionctl/internal/domain"
	"missionctl/internal/store"
)

func (r Repo) Agents(ctx context.Context) ([]domain.Agent, error) {
	var agents []domain.Agent
	if _, err := r.Store.Load(ctx, store.Agents, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// GetAgent matches ids case-insensitively.
func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	agents, err := r.Agents(ctx)
	if err != nil {
		return domain.Agent{}, err
	}
	if i := IndexAgent(agents, id); i >= 0 {
		return agents[i], nil
	}
	return domain.Agent{}, ErrNotFound
}

func (r Repo) MutateAgents(ctx context.Context, fn func(agents *[]domain.Agent) error) ([]domain.Agent, error) {
	return store.Mutate(ctx, r.Store, store.Agents, fn)
}

func IndexAgent(agents []domain.Agent, id string) int {
	for i := range agents {
		if strings.EqualFold(agents[i].ID, id) {
			return i
		}
	}
	return -1
}

func (r Repo) Mentions(ctx context.Context) ([]domain.Mention, error) {
	var mentions []domain.Mention
	if _, err := r.Store.Load(ctx, store.Mentions, &mentions); err != nil {
		return nil, err
	}
	return mentions, nil
}

// MentionsFor returns mentions of agent, newest first.
func (r Repo) MentionsFor(ctx context.Context, agent string, unreadOnly bool) ([]domain.Mention, error) {
	all, err := r.Mentions(ctx)
	if err != nil {
		return nil, err
	}
	res := []domain.Mention{}
	for _, m := range all {
		if !strings.EqualFold(m.MentionedAgent, agent) {
			continue
		}
		if unreadOnly && m.Read {
			continue
		}
		res = append(res, m)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt > res[j].CreatedAt })
	return res, nil
}

func (r Repo) MutateMentions(ctx context.Context, fn func(mentions *[]domain.Mention) error) ([]domain.Mention, error) {
	return store.Mutate(ctx, r.Store, store.Mentions, fn)
}

func (r Repo) Skips(ctx context.Context) ([]string, error) {
	var keys []string
	if _, err := r.Store.Load(ctx, store.Skips, &keys); err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

func (r Repo) MutateSkips(ctx context.Context, fn func(keys *[]string) error) ([]string, error) {
	return store.Mutate(ctx, r.Store, store.Skips, fn)
}
