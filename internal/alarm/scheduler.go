// Package alarm turns pending events into armed timers and presents an
// alert when a timer fires.
package alarm

import (
	"context"
	"errors"
	"time"

	"github.com/tazhate/memoalarm/internal/domain"
	"github.com/tazhate/memoalarm/internal/platform"
	"go.uber.org/zap"
)

const (
	DefaultHorizon = 24 * time.Hour

	// DefaultStaleAfter is how late a timer may run and still present.
	DefaultStaleAfter = time.Minute

	fireTimeout = 10 * time.Second
)

type eventStore interface {
	Get(ctx context.Context, id string) (*domain.Event, error)
	MarkNotified(ctx context.Context, id string) (*domain.Event, error)
}

type Scheduler struct {
	events    eventStore
	presenter platform.Presenter
	logger    *zap.SugaredLogger
	clock     Clock
	horizon   time.Duration
	stale     time.Duration
	loc       *time.Location
}

func New(events eventStore, presenter platform.Presenter, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		events:    events,
		presenter: presenter,
		logger:    logger,
		clock:     SystemClock{},
		horizon:   DefaultHorizon,
		stale:     DefaultStaleAfter,
		loc:       time.Local,
	}
}

func (s *Scheduler) SetClock(c Clock) {
	s.clock = c
}

// SetHorizon sets how far ahead events are armed. Non-positive values are
// ignored.
func (s *Scheduler) SetHorizon(d time.Duration) {
	if d > 0 {
		s.horizon = d
	}
}

// SetStaleAfter sets how far past its fire instant a timer may run before
// the alert is dropped. Timers pause while the host sleeps. Non-positive
// values are ignored.
func (s *Scheduler) SetStaleAfter(d time.Duration) {
	if d > 0 {
		s.stale = d
	}
}

func (s *Scheduler) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// ArmAll starts a timer for every event whose fire instant lies in
// (now, now+horizon]. Past events and events beyond the horizon are skipped.
func (s *Scheduler) ArmAll(events []*domain.Event) *Handles {
	handles := newHandles()
	now := s.clock.Now()

	for _, e := range events {
		at, err := e.FireAt(s.loc)
		if err != nil {
			s.logger.Warnw("not arming event with invalid timestamp", "id", e.ID, "err", err)
			continue
		}

		delta := at.Sub(now)
		switch {
		case delta <= 0:
			s.logger.Debugw("event is in the past, skipping", "id", e.ID, "fire_at", at)
			continue
		case delta > s.horizon:
			s.logger.Debugw("event is beyond horizon, deferring", "id", e.ID, "fire_at", at)
			continue
		}

		ev := *e
		hd := &handle{}
		hd.timer = s.clock.AfterFunc(delta, func() { s.fire(&ev, hd) })
		handles.add(e.ID, hd)

		s.logger.Debugw("armed event", "id", e.ID, "title", e.Title, "in", delta.Round(time.Second))
	}

	s.logger.Infow("armed notifications", "armed", handles.Len(), "pending", len(events))
	return handles
}

// CancelAll stops every timer in h that has not fired yet and empties h.
func (s *Scheduler) CancelAll(h *Handles) {
	if h == nil {
		return
	}
	for _, hd := range h.drain() {
		if hd.claim(stateCancelled) {
			hd.timer.Stop()
		}
	}
}

// fire presents the alert and then records the event as notified. The
// alert counts as delivered even if the flag cannot be stored.
func (s *Scheduler) fire(e *domain.Event, hd *handle) {
	if !hd.claim(stateFired) {
		return
	}

	if at, err := e.FireAt(s.loc); err == nil {
		if late := s.clock.Now().Sub(at); late > s.stale {
			s.logger.Debugw("timer ran too late, dropping alert", "id", e.ID, "fire_at", at, "late", late.Round(time.Second))
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	cur, err := s.events.Get(ctx, e.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.logger.Debugw("event deleted before firing", "id", e.ID)
		return
	case err != nil:
		s.logger.Warnw("failed to reload event before firing", "id", e.ID, "err", err)
	case cur.IsNotified:
		s.logger.Debugw("event already notified, not presenting again", "id", e.ID)
		return
	default:
		e = cur
	}

	s.logger.Infow("firing notification", "id", e.ID, "title", e.Title)

	if err := s.presenter.Present(ctx, Alert(e)); err != nil {
		s.logger.Errorw("failed to present notification", "id", e.ID, "err", err)
	}

	if _, err := s.events.MarkNotified(ctx, e.ID); err != nil {
		s.logger.Errorw("failed to mark event as notified", "id", e.ID, "err", err)
	}
}

// Alert builds the user-visible alert for e, tagged by its id.
func Alert(e *domain.Event) platform.Alert {
	return platform.Alert{
		Title: "📅 " + e.Title,
		Body:  "Scheduled for " + e.FormatWhen(),
		Tag:   e.ID,
		Data:  *e,
	}
}
