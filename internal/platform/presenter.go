// Package platform holds the collaborators the notification core consumes
// from its host: the alert presenter and the permission system.
package platform

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Alert is a user-visible notification. Alerts sharing a Tag replace each
// other instead of stacking.
type Alert struct {
	Title string
	Body  string
	Tag   string
	Data  any
}

type Presenter interface {
	Present(ctx context.Context, a Alert) error
}

// LogPresenter writes alerts to the log. Used when no other surface is
// configured.
type LogPresenter struct {
	logger *zap.SugaredLogger
}

func NewLogPresenter(logger *zap.SugaredLogger) *LogPresenter {
	return &LogPresenter{logger: logger}
}

func (p *LogPresenter) Present(_ context.Context, a Alert) error {
	p.logger.Infow("🔔 "+a.Title, "body", a.Body, "tag", a.Tag)
	return nil
}

// MultiPresenter presents every alert on all of its presenters. It keeps
// going after a failure and returns the joined errors.
type MultiPresenter []Presenter

func (m MultiPresenter) Present(ctx context.Context, a Alert) error {
	var errs []error
	for _, p := range m {
		if err := p.Present(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
