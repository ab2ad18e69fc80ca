package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tjfontaine/callscreen/internal/domain"
)

var dsnCounter int

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsnCounter++
	dsn := fmt.Sprintf("file:store_test_%d?mode=memory&cache=shared", dsnCounter)
	store, err := New(Config{DSN: dsn, MaxConns: 4, CheckoutTimeout: time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRecord(callID string) *domain.CallRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.CallRecord{
		ID:              "rec-" + callID,
		CallID:          callID,
		CallerNumber:    "+15550001111",
		AssistantNumber: "+15550002222",
		OwnerUserID:     "user-1",
		Outcome:         domain.OutcomeTerminated,
		Transcript: []domain.Utterance{
			{Role: "caller", Text: "hi, calling about your car warranty", At: now},
		},
		Decisions: []domain.Decision{
			{Verdict: domain.VerdictTerminate, At: now},
		},
		FramesDropped: 3,
		StartedAt:     now.Add(-time.Minute),
		EndedAt:       now,
	}
}

func TestStore_RecordAndReadBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordCall(ctx, sampleRecord("CA100")); err != nil {
		t.Fatalf("RecordCall() error = %v", err)
	}

	records, err := store.CallsByOwner(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("CallsByOwner() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("CallsByOwner() returned %d records, want 1", len(records))
	}

	got := records[0]
	if got.CallID != "CA100" {
		t.Errorf("CallID = %q, want CA100", got.CallID)
	}
	if got.Outcome != domain.OutcomeTerminated {
		t.Errorf("Outcome = %v, want %v", got.Outcome, domain.OutcomeTerminated)
	}
	if len(got.Transcript) != 1 || got.Transcript[0].Role != "caller" {
		t.Errorf("Transcript = %+v, want one caller utterance", got.Transcript)
	}
	if len(got.Decisions) != 1 || got.Decisions[0].Verdict != domain.VerdictTerminate {
		t.Errorf("Decisions = %+v, want one terminate verdict", got.Decisions)
	}
	if got.FramesDropped != 3 {
		t.Errorf("FramesDropped = %d, want 3", got.FramesDropped)
	}
}

func TestStore_CallsByOwnerNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := sampleRecord(fmt.Sprintf("CA%d", i))
		rec.ID = fmt.Sprintf("rec-%d", i)
		rec.EndedAt = time.Now().UTC().Add(time.Duration(i) * time.Minute)
		if err := store.RecordCall(ctx, rec); err != nil {
			t.Fatalf("RecordCall(%d) error = %v", i, err)
		}
	}

	records, err := store.CallsByOwner(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("CallsByOwner() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2 (limit applied)", len(records))
	}
	if records[0].CallID != "CA2" {
		t.Errorf("records[0].CallID = %q, want CA2 (newest first)", records[0].CallID)
	}
}

func TestStore_ProfileLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	profile := &domain.UserProfile{
		ID:                "user-1",
		FullName:          "Sam Doe",
		AssistantNumber:   "+15550002222",
		TransferNumber:    "+15550003333",
		SchedulingLink:    "https://cal.example/sam",
		Timezone:          "America/New_York",
		CalendarConnected: true,
	}
	if err := store.SaveProfile(ctx, profile); err != nil {
		t.Fatalf("SaveProfile() error = %v", err)
	}

	got, err := store.ProfileByAssistantNumber(ctx, "+15550002222")
	if err != nil {
		t.Fatalf("ProfileByAssistantNumber() error = %v", err)
	}
	if got.FullName != "Sam Doe" || got.TransferNumber != "+15550003333" {
		t.Errorf("profile = %+v, want saved values", got)
	}
	if !got.CalendarConnected {
		t.Error("CalendarConnected = false, want true")
	}

	if _, err := store.ProfileByAssistantNumber(ctx, "+15559999999"); err == nil {
		t.Error("ProfileByAssistantNumber(unknown) error = nil, want error")
	}
}

func TestStore_SaveProfileUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := &domain.UserProfile{ID: "user-1", FullName: "Sam Doe", AssistantNumber: "+15550002222", TransferNumber: "+15550003333"}
	if err := store.SaveProfile(ctx, p); err != nil {
		t.Fatalf("SaveProfile() error = %v", err)
	}
	p.TransferNumber = "+15550004444"
	if err := store.SaveProfile(ctx, p); err != nil {
		t.Fatalf("SaveProfile() second call error = %v", err)
	}

	got, err := store.ProfileByAssistantNumber(ctx, "+15550002222")
	if err != nil {
		t.Fatalf("ProfileByAssistantNumber() error = %v", err)
	}
	if got.TransferNumber != "+15550004444" {
		t.Errorf("TransferNumber = %q, want updated value", got.TransferNumber)
	}
}
