package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tazhate/memoalarm/internal/alarm"
	"github.com/tazhate/memoalarm/internal/domain"
	"github.com/tazhate/memoalarm/internal/platform"
	"go.uber.org/zap"
)

const (
	DefaultRefreshInterval = time.Minute

	refreshTimeout = 30 * time.Second
)

var ErrStopped = errors.New("scheduler stopped")

type PendingSource interface {
	ListPending(ctx context.Context, now time.Time) ([]*domain.Event, error)
}

type Alarms interface {
	ArmAll(events []*domain.Event) *alarm.Handles
	CancelAll(h *alarm.Handles)
}

type Status struct {
	Enabled bool
	Armed   []string
}

// Scheduler keeps the armed timer set in line with the store while
// notifications are enabled.
type Scheduler struct {
	cron     *cron.Cron
	interval time.Duration
	store    PendingSource
	alarms   Alarms
	perms    platform.Permissions
	logger   *zap.SugaredLogger
	now      func() time.Time

	// refreshMu serializes refresh passes.
	refreshMu sync.Mutex

	mu      sync.Mutex
	enabled bool
	stopped bool
	entry   cron.EntryID
	handles *alarm.Handles
}

func New(store PendingSource, alarms Alarms, perms platform.Permissions, logger *zap.SugaredLogger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	cl := cronLogger{logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	return &Scheduler{
		cron:     c,
		interval: interval,
		store:    store,
		alarms:   alarms,
		perms:    perms,
		logger:   logger,
		now:      time.Now,
	}
}

// SetNow replaces the time source used for pending queries.
func (s *Scheduler) SetNow(now func() time.Time) {
	s.now = now
}

// Start runs the periodic trigger until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Infow("scheduler started", "refresh_interval", s.interval)

	<-ctx.Done()
	return nil
}

// Stop releases the periodic trigger and cancels every armed timer. It is
// safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.enabled = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.refreshMu.Lock()
	s.mu.Lock()
	s.alarms.CancelAll(s.handles)
	s.handles = nil
	s.mu.Unlock()
	s.refreshMu.Unlock()

	s.logger.Info("scheduler stopped")
}

// Enable asks for notification permission. When granted it registers the
// periodic refresh and arms pending events right away.
func (s *Scheduler) Enable(ctx context.Context) (bool, error) {
	granted, err := s.perms.Request(ctx)
	if err != nil {
		return false, fmt.Errorf("request permission: %w", err)
	}
	if !granted {
		s.logger.Infow("notification permission not granted")
		return false, nil
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false, ErrStopped
	}
	if s.enabled {
		s.mu.Unlock()
		return true, nil
	}
	entry := s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(s.periodicRefresh))
	s.entry = entry
	s.enabled = true
	s.mu.Unlock()

	s.logger.Infow("notifications enabled")

	if err := s.Refresh(ctx); err != nil {
		s.logger.Errorw("initial refresh failed", "err", err)
	}
	return true, nil
}

// Disable cancels armed timers and stops the periodic refresh.
func (s *Scheduler) Disable() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	s.enabled = false
	s.cron.Remove(s.entry)
	s.alarms.CancelAll(s.handles)
	s.handles = nil

	s.logger.Infow("notifications disabled")
}

func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Enabled: s.enabled, Armed: s.handles.IDs()}
}

// Refresh cancels the current timers and re-arms them from the pending
// events as of now. It does nothing while notifications are disabled.
func (s *Scheduler) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return nil
	}
	s.alarms.CancelAll(s.handles)
	s.handles = nil
	s.mu.Unlock()

	pending, err := s.store.ListPending(ctx, s.now())
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	handles := s.alarms.ArmAll(pending)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		s.alarms.CancelAll(handles)
		return nil
	}
	s.handles = handles
	return nil
}

func (s *Scheduler) periodicRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if err := s.Refresh(ctx); err != nil {
		s.logger.Errorw("periodic refresh failed", "err", err)
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw("cron: "+msg, append(keysAndValues, "err", err)...)
}
