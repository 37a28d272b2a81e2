package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/tazhate/memoalarm/internal/domain"
)

const icsProductID = "-//memoalarm//Events//EN"

// ImportResult counts what an ICS import did.
type ImportResult struct {
	Added   int
	Updated int
	Skipped int
}

// ExportICS writes every event as a VEVENT with a display alarm at its
// fire instant. Events with an invalid date or time are left out.
func (s *EventService) ExportICS(ctx context.Context, w io.Writer) error {
	events, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, icsProductID)

	stamp := time.Now().UTC()
	for _, e := range events {
		at, err := e.FireAt(s.loc)
		if err != nil {
			s.logger.Warnw("not exporting event with invalid timestamp", "id", e.ID, "err", err)
			continue
		}

		vevent := ical.NewEvent()
		vevent.Props.SetText(ical.PropUID, e.ID)
		vevent.Props.SetText(ical.PropSummary, e.Title)
		vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
		vevent.Props.SetDateTime(ical.PropDateTimeStart, at.UTC())
		vevent.Props.SetDateTime(ical.PropCreated, e.CreatedAt.UTC())

		valarm := ical.NewComponent(ical.CompAlarm)
		valarm.Props.SetText(ical.PropAction, "DISPLAY")
		valarm.Props.SetText(ical.PropDescription, e.Title)
		valarm.Props.Set(&ical.Prop{
			Name:   ical.PropTrigger,
			Params: make(ical.Params),
			Value:  "PT0S",
		})
		vevent.Children = append(vevent.Children, valarm)

		cal.Children = append(cal.Children, vevent.Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

// ImportICS creates events from the VEVENTs in r. A VEVENT whose UID names
// an existing event updates it instead. Date-only starts get the default
// notification time.
func (s *EventService) ImportICS(ctx context.Context, r io.Reader, replace bool) (*ImportResult, error) {
	var events []*ical.Component
	dec := ical.NewDecoder(r)
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode calendar: %w", err)
		}
		for _, comp := range cal.Children {
			if comp.Name == ical.CompEvent {
				events = append(events, comp)
			}
		}
	}

	// a partial import still changed the store
	defer s.refresh(ctx)

	if replace {
		if err := s.storage.Clear(ctx); err != nil {
			return nil, err
		}
	}

	res := &ImportResult{}
	for _, comp := range events {
		in, uid, ok := s.fromVEvent(comp)
		if !ok {
			res.Skipped++
			continue
		}

		if uid != "" {
			if _, err := s.storage.Get(ctx, uid); err == nil {
				if _, err := s.storage.Update(ctx, uid, domain.EventPatch{
					Title:            &in.Title,
					Date:             &in.Date,
					NotificationTime: &in.NotificationTime,
				}); err != nil {
					return res, fmt.Errorf("update event %s: %w", uid, err)
				}
				res.Updated++
				continue
			} else if !errors.Is(err, domain.ErrNotFound) {
				return res, err
			}
		}

		if _, err := s.storage.Add(ctx, in); err != nil {
			return res, fmt.Errorf("add event: %w", err)
		}
		res.Added++
	}

	s.logger.Infow("calendar imported", "added", res.Added, "updated", res.Updated, "skipped", res.Skipped)
	return res, nil
}

func (s *EventService) fromVEvent(comp *ical.Component) (domain.Event, string, bool) {
	var uid, title string
	if p := comp.Props.Get(ical.PropUID); p != nil {
		uid = p.Value
	}
	if p := comp.Props.Get(ical.PropSummary); p != nil {
		if t, err := p.Text(); err == nil {
			title = strings.TrimSpace(t)
		}
	}
	if title == "" {
		return domain.Event{}, "", false
	}

	start := comp.Props.Get(ical.PropDateTimeStart)
	if start == nil {
		return domain.Event{}, "", false
	}
	at, err := start.DateTime(s.loc)
	if err != nil {
		s.logger.Warnw("skipping VEVENT with bad DTSTART", "uid", uid, "err", err)
		return domain.Event{}, "", false
	}
	at = at.In(s.loc)

	clock := at.Format(domain.TimeLayout)
	if start.Params.Get(ical.ParamValue) == string(ical.ValueDate) {
		clock = domain.DefaultNotificationTime
	}

	return domain.Event{
		Title:            title,
		Date:             at.Format(domain.DateLayout),
		NotificationTime: clock,
	}, uid, true
}
