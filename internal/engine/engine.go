package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"missionctl/internal/config"
	"missionctl/internal/domain"
	"missionctl/internal/events"
	"missionctl/internal/repo"
	"missionctl/internal/store"
)

type Engine struct {
	Repo   repo.Repo
	Events *events.Log
	Roster config.Roster
	Logger *log.Logger
	Now    func() time.Time
}

func New(s *store.Store, evts *events.Log, roster config.Roster, logger *log.Logger) Engine {
	return Engine{
		Repo:   repo.Repo{Store: s},
		Events: evts,
		Roster: roster,
		Logger: logger,
		Now:    time.Now,
	}
}

var (
	// ErrInvalid marks rejected input.
	ErrInvalid = errors.New("invalid input")
	// ErrReviewGate matches every *ReviewGateError.
	ErrReviewGate = errors.New("review gate violation")
)

// ReviewGateError rejects a done transition while children await approval.
type ReviewGateError struct {
	TaskID     string
	Unapproved int
	Total      int
}

func (e *ReviewGateError) Error() string {
	return fmt.Sprintf("Cannot mark parent DONE: %d/%d subtasks are not approved", e.Unapproved, e.Total)
}

func (e *ReviewGateError) Is(target error) bool { return target == ErrReviewGate }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return domain.FormatTime(e.now())
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) emit(ctx context.Context, evt domain.Event) {
	if e.Events == nil {
		return
	}
	if evt.Source == "" {
		evt.Source = domain.SourceUI
	}
	e.Events.Append(ctx, evt)
}

// checkReviewGate fails when id has children that are not all approved.
func checkReviewGate(tasks []domain.Task, id string) error {
	children := repo.Children(tasks, id)
	if len(children) == 0 {
		return nil
	}
	unapproved := 0
	for _, c := range children {
		if c.ReviewStatus != domain.ReviewApproved {
			unapproved++
		}
	}
	if unapproved > 0 {
		return &ReviewGateError{TaskID: id, Unapproved: unapproved, Total: len(children)}
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
