package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/muse/pkg/muse/channels"
	"github.com/jholhewres/muse/pkg/muse/store"
)

type fakeDirect struct {
	mu   sync.Mutex
	sent map[string][]*channels.OutgoingMessage
	fail map[string]bool
}

func newFakeDirect() *fakeDirect {
	return &fakeDirect{sent: map[string][]*channels.OutgoingMessage{}, fail: map[string]bool{}}
}

func (f *fakeDirect) Name() string { return "fake" }
func (f *fakeDirect) Connect(context.Context) error { return nil }
func (f *fakeDirect) Disconnect() error { return nil }
func (f *fakeDirect) Receive() <-chan *channels.IncomingMessage { return nil }
func (f *fakeDirect) IsConnected() bool { return true }
func (f *fakeDirect) Health() channels.HealthStatus { return channels.HealthStatus{Connected: true} }
func (f *fakeDirect) Send(context.Context, string, *channels.OutgoingMessage) error {
	return nil
}

func (f *fakeDirect) SendDirect(_ context.Context, userID string, msg *channels.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[userID] {
		return errors.New("dm closed")
	}
	f.sent[userID] = append(f.sent[userID], msg)
	return nil
}

func (f *fakeDirect) Direct() (channels.DirectChannel, bool) { return f, true }

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store, *fakeDirect) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "muse.db")}, nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	dm := newFakeDirect()
	return New(st, dm, Config{}, nil), st, dm
}

func TestLocalTimeUTC(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		local LocalTime
		want  string
		err   bool
	}{
		{"plus four", LocalTime{2025, 3, 1, 9, 30, 4}, "2025-03-01 05:30", false},
		{"minus five crosses midnight", LocalTime{2025, 12, 31, 22, 0, -5}, "2026-01-01 03:00", false},
		{"leap day", LocalTime{2024, 2, 29, 0, 0, 0}, "2024-02-29 00:00", false},
		{"no feb 30", LocalTime{2025, 2, 30, 10, 0, 0}, "", true},
		{"hour 24", LocalTime{2025, 1, 1, 24, 0, 0}, "", true},
		{"offset too large", LocalTime{2025, 1, 1, 10, 0, 15}, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := tc.local.UTC()
			if tc.err {
				if !errors.Is(err, ErrInvalidTime) {
					t.Fatalf("err = %v, want ErrInvalidTime", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("UTC: %v", err)
			}
			if s := got.Format(store.ReminderLayout); s != tc.want {
				t.Errorf("got %s, want %s", s, tc.want)
			}
		})
	}
}

func TestAddListDelete(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	at, err := s.Add(ctx, "u1", LocalTime{2030, 6, 15, 18, 45, 3}, "call mom")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if at.Format(store.ReminderLayout) != "2030-06-15 15:45" {
		t.Errorf("utc = %s", at)
	}
	if _, err := s.Add(ctx, "u1", LocalTime{2030, 6, 16, 8, 0, 3}, "gym"); err != nil {
		t.Fatal(err)
	}

	views, err := s.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("got %d reminders", len(views))
	}
	if views[0].Local != "2030-06-15 18:45" || views[0].Zone() != "UTC+3" || views[0].Position != 1 {
		t.Errorf("first view = %+v", views[0])
	}

	ok, err := s.Delete(ctx, "u1", 1)
	if err != nil || !ok {
		t.Fatalf("Delete(1) = %v, %v", ok, err)
	}
	if ok, _ := s.Delete(ctx, "u1", 5); ok {
		t.Error("out-of-range delete reported success")
	}
	views, _ = s.List(ctx, "u1")
	if len(views) != 1 || views[0].Message != "gym" {
		t.Errorf("after delete: %+v", views)
	}
}

func TestSweepDeliversOnceAtMinute(t *testing.T) {
	t.Parallel()
	s, st, dm := newTestScheduler(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, "u1", LocalTime{2030, 1, 2, 10, 5, 2}, "stand up"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(ctx, "u2", LocalTime{2030, 1, 2, 8, 5, 0}, "water plants"); err != nil {
		t.Fatal(err)
	}
	dm.fail["u2"] = true

	before := time.Date(2030, 1, 2, 8, 4, 59, 0, time.UTC)
	if n, err := s.Sweep(ctx, before); err != nil || n != 0 {
		t.Fatalf("early sweep = %d, %v", n, err)
	}

	due := time.Date(2030, 1, 2, 8, 5, 10, 0, time.UTC)
	n, err := s.Sweep(ctx, due)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if got := dm.sent["u1"]; len(got) != 1 || got[0].Embeds[0].Description != "stand up" {
		t.Errorf("u1 messages = %+v", got)
	}

	// Both are gone, including the one whose delivery failed.
	left, _ := st.AllReminders(ctx)
	if len(left) != 0 {
		t.Errorf("%d reminders left after sweep", len(left))
	}

	// A second tick in the same minute delivers nothing.
	if n, _ := s.Sweep(ctx, due.Add(20*time.Second)); n != 0 {
		t.Errorf("second sweep delivered %d", n)
	}
}

// stuckStore cannot delete reminders.
type stuckStore struct {
	*store.Store
}

func (stuckStore) DeleteReminders(context.Context, []int64) (int, error) {
	return 0, errors.New("database is locked")
}

func TestSweepSendsNothingWhenDeleteFails(t *testing.T) {
	t.Parallel()
	_, st, dm := newTestScheduler(t)
	s := New(stuckStore{st}, dm, Config{}, nil)
	ctx := context.Background()

	if _, err := s.Add(ctx, "u1", LocalTime{2030, 1, 2, 8, 5, 0}, "stand up"); err != nil {
		t.Fatal(err)
	}
	due := time.Date(2030, 1, 2, 8, 5, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if n, err := s.Sweep(ctx, due.Add(time.Duration(i)*30*time.Second)); err == nil || n != 0 {
			t.Errorf("sweep %d = %d, %v; want an error and no delivery", i, n, err)
		}
	}
	if len(dm.sent["u1"]) != 0 {
		t.Errorf("delivered %d times without claiming the reminder", len(dm.sent["u1"]))
	}
	if left, _ := st.AllReminders(ctx); len(left) != 1 {
		t.Errorf("%d reminders left, want 1", len(left))
	}
}

func TestSweepSkipsMissedMinute(t *testing.T) {
	t.Parallel()
	s, st, dm := newTestScheduler(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, "u1", LocalTime{2030, 1, 2, 10, 5, 0}, "missed"); err != nil {
		t.Fatal(err)
	}
	n, err := s.Sweep(ctx, time.Date(2030, 1, 2, 10, 6, 0, 0, time.UTC))
	if err != nil || n != 0 {
		t.Fatalf("Sweep = %d, %v", n, err)
	}
	if len(dm.sent) != 0 {
		t.Errorf("missed reminder delivered: %+v", dm.sent)
	}
	left, _ := st.AllReminders(ctx)
	if len(left) != 1 {
		t.Errorf("missed reminder should stay stored, got %d", len(left))
	}
}

func TestLocalString(t *testing.T) {
	t.Parallel()
	if got := LocalString("2030-01-01 23:30", 2); got != "2030-01-02 01:30" {
		t.Errorf("got %s", got)
	}
	if got := LocalString("garbage", 2); got != "garbage" {
		t.Errorf("got %s", got)
	}
}
