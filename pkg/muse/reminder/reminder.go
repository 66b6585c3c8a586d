// Package reminder stores one-shot reminders in UTC and delivers them by
// direct message. A cron entry sweeps the store; a reminder fires when its
// minute equals the current UTC minute, so a minute missed while the process
// was down is never delivered.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/muse/pkg/muse/channels"
	"github.com/jholhewres/muse/pkg/muse/store"
)

// ErrInvalidTime is returned for a local time that does not exist.
var ErrInvalidTime = errors.New("invalid date or time")

// Config configures the sweep.
type Config struct {
	// Schedule is a cron spec or descriptor such as "@every 30s".
	Schedule string `yaml:"schedule"`
}

// DefaultConfig sweeps twice a minute so no minute is skipped.
func DefaultConfig() Config {
	return Config{Schedule: "@every 30s"}
}

// LocalTime is a wall-clock minute at a fixed UTC offset in hours.
type LocalTime struct {
	Year, Month, Day, Hour, Minute int

	// Offset is the user's UTC offset in hours, -12 to +14.
	Offset int
}

// UTC converts l to UTC, rejecting dates that do not exist.
func (l LocalTime) UTC() (time.Time, error) {
	if l.Offset < -12 || l.Offset > 14 {
		return time.Time{}, fmt.Errorf("%w: offset %+d out of range", ErrInvalidTime, l.Offset)
	}
	zone := time.FixedZone(offsetLabel(l.Offset), l.Offset*3600)
	t := time.Date(l.Year, time.Month(l.Month), l.Day, l.Hour, l.Minute, 0, 0, zone)
	// time.Date normalizes overflow; a changed field means the input was invalid.
	if t.Year() != l.Year || int(t.Month()) != l.Month || t.Day() != l.Day ||
		t.Hour() != l.Hour || t.Minute() != l.Minute {
		return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d %02d:%02d",
			ErrInvalidTime, l.Year, l.Month, l.Day, l.Hour, l.Minute)
	}
	return t.UTC(), nil
}

// View is a reminder rendered in its owner's local time.
type View struct {
	Position int
	Local    string
	Offset   int
	Message  string
}

// Zone renders the offset as "UTC+N".
func (v View) Zone() string { return offsetLabel(v.Offset) }

// Store is the persistence the scheduler needs.
type Store interface {
	AddReminder(ctx context.Context, r store.Reminder) (int64, error)
	ListReminders(ctx context.Context, userID string) ([]store.Reminder, error)
	RemindersAt(ctx context.Context, minute string) ([]store.Reminder, error)
	DeleteReminderAt(ctx context.Context, userID string, position int) (bool, error)
	DeleteReminders(ctx context.Context, ids []int64) (int, error)
}

// Directory finds a channel able to message a user privately.
type Directory interface {
	Direct() (channels.DirectChannel, bool)
}

// Scheduler adds, lists, deletes and delivers reminders.
type Scheduler struct {
	store     Store
	directory Directory
	cfg       Config
	logger    *slog.Logger

	cron *cron.Cron
	// sweepMu keeps two overlapping ticks from delivering the same minute twice.
	sweepMu sync.Mutex
	now     func() time.Time
}

// New creates a scheduler. directory may be nil when only Add, List and
// Delete are used.
func New(st Store, directory Directory, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Schedule == "" {
		cfg = DefaultConfig()
	}
	return &Scheduler{
		store:     st,
		directory: directory,
		cfg:       cfg,
		logger:    logger.With("component", "reminders"),
		now:       time.Now,
	}
}

// Run starts the cron sweep and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.Sweep(ctx, s.now()); err != nil {
			s.logger.Error("reminder sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("reminder schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	s.logger.Info("reminder scheduler started", "schedule", s.cfg.Schedule)

	<-ctx.Done()

	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("reminder scheduler stop timed out")
	}
	s.logger.Info("reminder scheduler stopped")
	return nil
}

// Sweep deletes every reminder due in the UTC minute of now and then
// delivers them. Deleting first keeps delivery at most once: when the delete
// fails nothing is sent and the next tick retries. It returns how many were
// delivered.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	minute := now.UTC().Format(store.ReminderLayout)
	due, err := s.store.RemindersAt(ctx, minute)
	if err != nil {
		return 0, fmt.Errorf("loading reminders: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(due))
	for _, r := range due {
		ids = append(ids, r.ID)
	}
	if _, err := s.store.DeleteReminders(ctx, ids); err != nil {
		return 0, fmt.Errorf("claiming due reminders: %w", err)
	}

	var dc channels.DirectChannel
	if s.directory != nil {
		dc, _ = s.directory.Direct()
	}

	delivered := 0
	for _, r := range due {
		if dc == nil {
			s.logger.Warn("no channel for reminder delivery", "user", r.UserID, "id", r.ID)
			continue
		}
		if err := dc.SendDirect(ctx, r.UserID, reminderMessage(r)); err != nil {
			s.logger.Error("failed to send reminder", "user", r.UserID, "id", r.ID, "error", err)
			continue
		}
		delivered++
	}

	s.logger.Info("reminders swept", "minute", minute, "due", len(due), "delivered", delivered)
	return delivered, nil
}

// Add stores a reminder for the given local time and returns its UTC time.
func (s *Scheduler) Add(ctx context.Context, userID string, local LocalTime, message string) (time.Time, error) {
	at, err := local.UTC()
	if err != nil {
		return time.Time{}, err
	}
	_, err = s.store.AddReminder(ctx, store.Reminder{
		UserID:         userID,
		UTCDate:        at.Format(store.ReminderLayout),
		TimezoneOffset: local.Offset,
		Message:        message,
	})
	if err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// List returns the user's reminders in insertion order, rendered in the
// offset each was created with.
func (s *Scheduler) List(ctx context.Context, userID string) ([]View, error) {
	rs, err := s.store.ListReminders(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(rs))
	for i, r := range rs {
		views = append(views, View{
			Position: i + 1,
			Local:    LocalString(r.UTCDate, r.TimezoneOffset),
			Offset:   r.TimezoneOffset,
			Message:  r.Message,
		})
	}
	return views, nil
}

// Delete removes the reminder at the 1-based list position.
func (s *Scheduler) Delete(ctx context.Context, userID string, position int) (bool, error) {
	return s.store.DeleteReminderAt(ctx, userID, position)
}

// LocalString renders a stored UTC minute at the given offset.
func LocalString(utcDate string, offset int) string {
	t, err := time.ParseInLocation(store.ReminderLayout, utcDate, time.UTC)
	if err != nil {
		return utcDate
	}
	return t.Add(time.Duration(offset) * time.Hour).Format(store.ReminderLayout)
}

func reminderMessage(r store.Reminder) *channels.OutgoingMessage {
	return &channels.OutgoingMessage{
		Embeds: []*channels.Embed{{
			Title:       "🔔 Reminder:",
			Description: r.Message,
			Color:       0xF1C40F,
			Footer:      fmt.Sprintf("Set for %s (%s)", LocalString(r.UTCDate, r.TimezoneOffset), offsetLabel(r.TimezoneOffset)),
		}},
	}
}

func offsetLabel(offset int) string {
	return fmt.Sprintf("UTC%+d", offset)
}
