package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "muse.db")}, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_Migrates(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	version, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestEnsureUser_Defaults(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnsureUser(ctx, "u1", "ana"); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	u, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u.Nickname != "ana" || u.Modality != ModalityText || !u.Active || u.ResponseCount != 0 {
		t.Errorf("unexpected defaults: %+v", u)
	}

	// A second sighting only refreshes the nickname.
	if err := s.SetModality(ctx, "u1", ModalityVoice); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureUser(ctx, "u1", "ana2"); err != nil {
		t.Fatal(err)
	}
	u, _ = s.GetUser(ctx, "u1")
	if u.Nickname != "ana2" || u.Modality != ModalityVoice {
		t.Errorf("EnsureUser overwrote state: %+v", u)
	}
}

func TestModality_ReadYourWrites(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, m := range []Modality{ModalityVoice, ModalityImage, ModalityText, ModalityImage} {
		if err := s.SetModality(ctx, "u1", m); err != nil {
			t.Fatalf("SetModality(%s) failed: %v", m, err)
		}
		u, err := s.GetUser(ctx, "u1")
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if u.Modality != m {
			t.Errorf("expected %s, got %s", m, u.Modality)
		}
	}

	for _, active := range []bool{false, true, false} {
		if err := s.SetActive(ctx, "u1", active); err != nil {
			t.Fatal(err)
		}
		u, err := s.GetUser(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if u.Active != active {
			t.Errorf("expected active=%v, got %v", active, u.Active)
		}
	}
}

func TestParseModality(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Modality
	}{
		{"text", ModalityText},
		{"voice", ModalityVoice},
		{"speech", ModalityVoice},
		{" Image ", ModalityImage},
		{"", ModalityText},
		{"bogus", ModalityText},
	}
	for _, tt := range tests {
		if got := ParseModality(tt.in); got != tt.want {
			t.Errorf("ParseModality(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestIncrementResponses(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementResponses(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("expected count %d, got %d", want, got)
		}
	}
}

func TestHistory_OrderAndReset(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	var last int64
	for i, p := range []string{"one", "two", "three", "four"} {
		id, err := s.AppendHistory(ctx, "u1", p, "r"+p)
		if err != nil {
			t.Fatalf("AppendHistory %d failed: %v", i, err)
		}
		if id <= last {
			t.Fatalf("ids not monotonic: %d after %d", id, last)
		}
		last = id
	}
	if _, err := s.AppendHistory(ctx, "u2", "other", "x"); err != nil {
		t.Fatal(err)
	}

	recent, err := s.RecentPrompts(ctx, "u1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Prompt != "three" || recent[1].Prompt != "four" {
		t.Errorf("unexpected recent prompts: %+v", recent)
	}

	text, _ := s.FullPromptText(ctx, "u1")
	if text != "one\ntwo\nthree\nfour" {
		t.Errorf("unexpected prompt text %q", text)
	}

	n, err := s.ResetHistory(ctx, "u1")
	if err != nil || n != 4 {
		t.Fatalf("ResetHistory = %d, %v", n, err)
	}
	n, err = s.ResetHistory(ctx, "u1")
	if err != nil || n != 0 {
		t.Fatalf("second ResetHistory = %d, %v", n, err)
	}
	if c, _ := s.CountHistory(ctx, "u2"); c != 1 {
		t.Errorf("reset touched another user, u2 has %d entries", c)
	}
}

func TestDeleteHistory_OwnRowsOnly(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	a, _ := s.AppendHistory(ctx, "u1", "a", "")
	b, _ := s.AppendHistory(ctx, "u1", "b", "")
	other, _ := s.AppendHistory(ctx, "u2", "c", "")

	n, err := s.DeleteHistory(ctx, "u1", []int64{a, other, 9999})
	if err != nil {
		t.Fatalf("DeleteHistory failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted row, got %d", n)
	}

	rest, _ := s.History(ctx, "u1")
	if len(rest) != 1 || rest[0].ID != b {
		t.Errorf("unexpected u1 history: %+v", rest)
	}
	if c, _ := s.CountHistory(ctx, "u2"); c != 1 {
		t.Errorf("u2 entry was deleted")
	}
}

func TestReminders_ListDeleteByPosition(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, msg := range []string{"first", "second", "third"} {
		if _, err := s.AddReminder(ctx, Reminder{UserID: "u1", UTCDate: "2030-01-02 10:00", Message: msg}); err != nil {
			t.Fatal(err)
		}
	}
	s.AddReminder(ctx, Reminder{UserID: "u2", UTCDate: "2030-01-02 10:00", Message: "other"})

	ok, err := s.DeleteReminderAt(ctx, "u1", 2)
	if err != nil || !ok {
		t.Fatalf("DeleteReminderAt(2) = %v, %v", ok, err)
	}
	for _, pos := range []int{0, 3, -1} {
		if ok, _ := s.DeleteReminderAt(ctx, "u1", pos); ok {
			t.Errorf("DeleteReminderAt(%d) should fail", pos)
		}
	}

	list, _ := s.ListReminders(ctx, "u1")
	if len(list) != 2 || list[0].Message != "first" || list[1].Message != "third" {
		t.Errorf("unexpected list: %+v", list)
	}

	due, _ := s.RemindersAt(ctx, "2030-01-02 10:00")
	if len(due) != 3 {
		t.Errorf("expected 3 due reminders, got %d", len(due))
	}
	if due, _ := s.RemindersAt(ctx, "2030-01-02 10:01"); len(due) != 0 {
		t.Errorf("minute match is not exact: %d", len(due))
	}
}
