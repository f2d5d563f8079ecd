// Package reminder sends one "class starts soon" notification per timetable
// entry per local calendar day.
package reminder

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"campus/pkg/interfaces"
	"campus/pkg/types"
)

// Config holds the scan parameters.
type Config struct {
	TickInterval time.Duration
	LeadWindow   time.Duration
	SendTimeout  time.Duration
	Location     *time.Location
}

// TickReport summarizes one scan.
type TickReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Scanned   int           `json:"scanned"`
	Due       int           `json:"due"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`   // due but already notified today
	Malformed int           `json:"malformed"` // unparseable weekday or start time
	Vanished  int           `json:"vanished"`  // deleted or edited before write-back
}

// Scheduler scans every user's timetable on a fixed interval.
// ARCHITECTURAL DISCOVERY: the scheduler owns no schedule state; the Store's
// watermark is the only record of what was sent
type Scheduler struct {
	store    interfaces.ScheduleStore
	notifier interfaces.Notifier
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger

	// tickMu is held for the whole of a tick. TryLock makes ticks single-flight.
	tickMu sync.Mutex

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc

	lastMu   sync.RWMutex
	last     TickReport
	haveLast bool
}

// New creates a stopped scheduler.
func New(store interfaces.ScheduleStore, notifier interfaces.Notifier, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.LeadWindow <= 0 {
		cfg.LeadWindow = 10 * time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	return &Scheduler{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		log:      log.With().Str("component", "reminder").Logger(),
	}
}

// SetClock replaces the time source. Must be called before Start.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start registers the recurring tick with cron and starts it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrSchedulerAlreadyRunning
	}

	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(logger),
		// FUNCTIONAL DISCOVERY: a slow notifier must never cause two scans to overlap
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	runCtx, cancel := context.WithCancel(ctx)
	c.Schedule(cron.Every(s.cfg.TickInterval), cron.FuncJob(func() {
		if _, err := s.Tick(runCtx); err != nil && err != ErrTickInProgress {
			s.log.Error().Err(err).Msg("reminder tick failed")
		}
	}))
	c.Start()

	s.cron = c
	s.cancel = cancel

	s.log.Info().
		Dur("interval", s.cfg.TickInterval).
		Dur("lead_window", s.cfg.LeadWindow).
		Str("tz", s.cfg.Location.String()).
		Msg("reminder scheduler started")
	return nil
}

// Stop halts future ticks and waits for a running one, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return ErrSchedulerNotRunning
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
	cancel()

	s.log.Info().Msg("reminder scheduler stopped")
	return nil
}

// Running reports whether cron is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// LastTick returns the report of the most recent completed tick.
func (s *Scheduler) LastTick() (TickReport, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last, s.haveLast
}

// Tick runs one scan unless another is still in progress, in which case it
// returns ErrTickInProgress immediately.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	if !s.tickMu.TryLock() {
		s.log.Warn().Msg("previous reminder tick still running, skipping")
		return TickReport{}, ErrTickInProgress
	}
	defer s.tickMu.Unlock()

	report, err := s.scan(ctx)
	if err != nil {
		return report, err
	}

	s.lastMu.Lock()
	s.last, s.haveLast = report, true
	s.lastMu.Unlock()

	ev := s.log.Debug()
	if report.Due > 0 || report.Malformed > 0 {
		ev = s.log.Info()
	}
	ev.Int("scanned", report.Scanned).
		Int("due", report.Due).
		Int("sent", report.Sent).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Int("malformed", report.Malformed).
		Dur("took", report.Duration).
		Msg("reminder tick")

	return report, nil
}

func (s *Scheduler) scan(ctx context.Context) (TickReport, error) {
	now := s.now().In(s.cfg.Location)
	today := now.Format(types.DateLayout)
	report := TickReport{StartedAt: now}

	schedules, err := s.store.ListUsersWithSchedules(ctx)
	if err != nil {
		return report, err
	}

	for _, user := range schedules {
		for _, entry := range user.Entries {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Scanned++

			due, ok := s.due(entry, now)
			if !ok {
				report.Malformed++
				continue
			}
			if !due {
				continue
			}
			if entry.NotifiedOn(now) {
				report.Skipped++
				continue
			}
			report.Due++

			s.notify(ctx, user.Email, entry, &report)
			s.advance(ctx, entry, today, &report)
		}
	}

	report.Duration = s.now().Sub(now)
	return report, nil
}

// due reports whether entry starts within (0, LeadWindow] of now on now's
// weekday. ok is false when the weekday or start time cannot be parsed.
func (s *Scheduler) due(entry *types.ScheduleEntry, now time.Time) (due bool, ok bool) {
	weekday, err := types.ParseWeekday(entry.DayOfWeek)
	if err != nil {
		s.log.Debug().Str("entry", entry.ID).Str("day_of_week", entry.DayOfWeek).Msg("skipping entry with unknown weekday")
		return false, false
	}

	start, err := entry.StartOn(now)
	if err != nil {
		s.log.Debug().Str("entry", entry.ID).Str("start_time", entry.StartTime).Msg("skipping entry with malformed start time")
		return false, false
	}

	if weekday != now.Weekday() {
		return false, true
	}

	delta := start.Sub(now)
	return delta > 0 && delta <= s.cfg.LeadWindow, true
}

func (s *Scheduler) notify(ctx context.Context, recipient string, entry *types.ScheduleEntry, report *TickReport) {
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	if err := s.notifier.Send(sendCtx, recipient, entry); err != nil {
		report.Failed++
		s.log.Error().Err(err).
			Str("to", recipient).
			Str("entry", entry.ID).
			Str("course", entry.CourseName).
			Msg("reminder delivery failed")
		return
	}

	report.Sent++
	s.log.Info().
		Str("to", recipient).
		Str("entry", entry.ID).
		Str("course", entry.CourseName).
		Str("start_time", entry.StartTime).
		Msg("reminder sent")
}

// advance writes today's watermark, also after a failed send: delivery is at
// most once per entry per day. An entry deleted, or moved to another slot,
// since the scan is left untouched.
func (s *Scheduler) advance(ctx context.Context, entry *types.ScheduleEntry, today string, report *TickReport) {
	moved := false
	found, err := s.store.MutateScheduleEntry(ctx, entry.ID, func(stored *types.ScheduleEntry) {
		if !stored.SameSlot(entry) {
			moved = true
			return
		}
		stored.LastNotified = today
	})
	if err != nil {
		s.log.Error().Err(err).Str("entry", entry.ID).Msg("failed to record reminder watermark")
		return
	}
	if !found || moved {
		report.Vanished++
		s.log.Debug().Str("entry", entry.ID).Bool("deleted", !found).Msg("entry changed during scan, watermark not written")
	}
}
