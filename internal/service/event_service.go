package service

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/tazhate/memoalarm/internal/domain"
	"go.uber.org/zap"
)

type eventStore interface {
	GetAll(ctx context.Context) ([]*domain.Event, error)
	GetByDatePrefix(ctx context.Context, prefix string) ([]*domain.Event, error)
	Get(ctx context.Context, id string) (*domain.Event, error)
	Add(ctx context.Context, e domain.Event) (*domain.Event, error)
	Update(ctx context.Context, id string, p domain.EventPatch) (*domain.Event, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// Refresher re-derives armed notifications after the store changed.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type EventService struct {
	storage   eventStore
	refresher Refresher
	logger    *zap.SugaredLogger
	loc       *time.Location
}

func NewEventService(s eventStore, r Refresher, logger *zap.SugaredLogger) *EventService {
	return &EventService{
		storage:   s,
		refresher: r,
		logger:    logger,
		loc:       time.Local,
	}
}

func (s *EventService) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

func (s *EventService) Create(ctx context.Context, title, date, clock string) (*domain.Event, error) {
	title = strings.TrimSpace(title)
	if clock == "" {
		clock = domain.DefaultNotificationTime
	}
	if err := validate(title, date, clock); err != nil {
		return nil, err
	}

	e, err := s.storage.Add(ctx, domain.Event{
		Title:            title,
		Date:             date,
		NotificationTime: clock,
	})
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	s.logger.Infow("event created", "id", e.ID, "date", e.Date)
	s.refresh(ctx)
	return e, nil
}

// Modify applies p to the event. A missing id yields domain.ErrNotFound.
func (s *EventService) Modify(ctx context.Context, id string, p domain.EventPatch) (*domain.Event, error) {
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if t == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", domain.ErrInvalidEvent)
		}
		p.Title = &t
	}
	if p.Date != nil && !domain.ValidDate(domain.DatePart(*p.Date)) {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD, got %q", domain.ErrInvalidEvent, *p.Date)
	}
	if p.NotificationTime != nil && !domain.ValidTime(*p.NotificationTime) {
		return nil, fmt.Errorf("%w: time must be HH:MM, got %q", domain.ErrInvalidEvent, *p.NotificationTime)
	}

	e, err := s.storage.Update(ctx, id, p)
	if err != nil {
		return nil, fmt.Errorf("modify event: %w", err)
	}

	s.logger.Infow("event updated", "id", e.ID, "date", e.Date)
	s.refresh(ctx)
	return e, nil
}

func (s *EventService) Remove(ctx context.Context, id string) error {
	if err := s.storage.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove event: %w", err)
	}

	s.logger.Infow("event deleted", "id", id)
	s.refresh(ctx)
	return nil
}

func (s *EventService) Get(ctx context.Context, id string) (*domain.Event, error) {
	return s.storage.Get(ctx, id)
}

// List returns every event ordered by date and time.
func (s *EventService) List(ctx context.Context) ([]*domain.Event, error) {
	events, err := s.storage.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	sortEvents(events)
	return events, nil
}

// ListForDate returns the events on the local calendar day of day.
func (s *EventService) ListForDate(ctx context.Context, day time.Time) ([]*domain.Event, error) {
	events, err := s.storage.GetByDatePrefix(ctx, day.In(s.loc).Format(domain.DateLayout))
	if err != nil {
		return nil, err
	}
	sortEvents(events)
	return events, nil
}

// refresh is best effort: the mutation already succeeded.
func (s *EventService) refresh(ctx context.Context) {
	if s.refresher == nil {
		return
	}
	if err := s.refresher.Refresh(ctx); err != nil {
		s.logger.Errorw("failed to reschedule notifications", "err", err)
	}
}

func (s *EventService) FormatEventList(events []*domain.Event) string {
	if len(events) == 0 {
		return "No events"
	}

	var sb strings.Builder
	for _, e := range events {
		status := "🔔"
		if e.IsNotified {
			status = "✅"
		}
		sb.WriteString(fmt.Sprintf("%s %s %s\n<code>%s</code>\n", status, e.FormatWhen(), html.EscapeString(e.Title), e.ID))
	}
	return sb.String()
}

func validate(title, date, clock string) error {
	if title == "" {
		return fmt.Errorf("%w: title cannot be empty", domain.ErrInvalidEvent)
	}
	if !domain.ValidDate(date) {
		return fmt.Errorf("%w: date must be YYYY-MM-DD, got %q", domain.ErrInvalidEvent, date)
	}
	if !domain.ValidTime(clock) {
		return fmt.Errorf("%w: time must be HH:MM, got %q", domain.ErrInvalidEvent, clock)
	}
	return nil
}

func sortEvents(events []*domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Date != events[j].Date {
			return events[i].Date < events[j].Date
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
}
