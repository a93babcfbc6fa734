package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewStudySession_DerivesTotals(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	in := SessionInput{
		CardSetID: "cs-1",
		Mode:      ModeTest,
		StartTime: start,
		EndTime:   start.Add(90*time.Second + 400*time.Millisecond),
		Attempts: []CardAttempt{
			{CardID: "c1", Correct: true},
			{CardID: "c2", Correct: false},
			{CardID: "c3", Correct: true},
			{CardID: "c4", Correct: true},
		},
	}

	s := NewStudySession("temp_1_x", in, start)

	if s.Duration != 90 {
		t.Errorf("Duration = %d, want 90", s.Duration)
	}
	if s.TotalCards != 4 || s.Correct != 3 || s.Incorrect != 1 {
		t.Errorf("totals = %d/%d/%d, want 4/3/1", s.TotalCards, s.Correct, s.Incorrect)
	}
	if s.Accuracy != 75 {
		t.Errorf("Accuracy = %v, want 75", s.Accuracy)
	}
}

func TestNewStudySession_NoAttempts(t *testing.T) {
	s := NewStudySession("s", SessionInput{Mode: ModeFlashcard}, time.Now())
	if s.Accuracy != 0 || s.TotalCards != 0 {
		t.Errorf("empty session accuracy = %v total = %d, want 0/0", s.Accuracy, s.TotalCards)
	}
}

func TestCardSetPatch_Apply(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cs := NewCardSet("cs-1", CardSetInput{
		Title: "Greetings",
		Cards: []Card{{Terminology: "Hello", Define: "Xin chào"}},
	}, created)

	title := "Greetings v2"
	later := created.Add(time.Hour)
	patched := CardSetPatch{Title: &title}.Apply(cs, later)

	if patched.Title != "Greetings v2" {
		t.Errorf("Title = %q, want %q", patched.Title, "Greetings v2")
	}
	if len(patched.Cards) != 1 {
		t.Errorf("Cards len = %d, want 1 (unchanged)", len(patched.Cards))
	}
	if !patched.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", patched.UpdatedAt, later)
	}
	if !patched.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed to %v", patched.CreatedAt)
	}
	if cs.Title != "Greetings" {
		t.Error("Apply mutated the original record")
	}
}

func TestNewCardSet_AssignsCardIDs(t *testing.T) {
	cs := NewCardSet("cs-1", CardSetInput{
		Title: "Greetings",
		Cards: []Card{{Terminology: "Hello"}, {ID: "keep", Terminology: "Bye"}},
	}, time.UnixMilli(1700000000000))

	if cs.Cards[0].ID == "" {
		t.Error("card without id was not assigned one")
	}
	if cs.Cards[1].ID != "keep" {
		t.Errorf("existing card id = %q, want keep", cs.Cards[1].ID)
	}
}

func TestTempID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	a := NewTempID(now)
	b := NewTempID(now)

	if !strings.HasPrefix(a, "temp_1700000000123_") {
		t.Errorf("NewTempID() = %q, want temp_<ms>_ prefix", a)
	}
	if a == b {
		t.Errorf("NewTempID() returned duplicate %q", a)
	}
	if !IsTempID(a) {
		t.Errorf("IsTempID(%q) = false", a)
	}
	if IsTempID("01HQ3Z8Y6X0000000000000000") {
		t.Error("IsTempID(server id) = true")
	}
}

func TestSummarize(t *testing.T) {
	sessions := []StudySession{
		{Duration: 60, TotalCards: 4, Correct: 3, Incorrect: 1},
		{Duration: 30, TotalCards: 4, Correct: 1, Incorrect: 3},
	}

	o := Summarize(sessions)

	if o.TotalSessions != 2 || o.TotalStudyTime != 90 || o.CardsStudied != 8 {
		t.Errorf("Summarize() = %+v", o)
	}
	if o.OverallAccuracy != 50 {
		t.Errorf("OverallAccuracy = %v, want 50", o.OverallAccuracy)
	}
}

func TestPendingOperation_JSONSelectsVariant(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	tests := []struct {
		name    string
		payload Payload
	}{
		{"create cardset", CreateCardSet{TempID: "temp_1_a", Input: CardSetInput{Title: "Greetings"}}},
		{"delete session", DeleteSession{ID: "01HQ"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewPendingOperation("op-1", tt.payload, now)

			data, err := json.Marshal(op)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			var got PendingOperation
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}

			if got.Type != tt.payload.Op() || got.Entity != tt.payload.Entity() {
				t.Errorf("got %s/%s, want %s/%s", got.Entity, got.Type, tt.payload.Entity(), tt.payload.Op())
			}
			if got.Payload.TargetID() != tt.payload.TargetID() {
				t.Errorf("TargetID() = %q, want %q", got.Payload.TargetID(), tt.payload.TargetID())
			}
			if got.Timestamp != now.UnixMilli() {
				t.Errorf("Timestamp = %d, want %d", got.Timestamp, now.UnixMilli())
			}
		})
	}
}

func TestPendingOperation_UnknownEntityDecodes(t *testing.T) {
	// Given: An operation written by a build that knew about "folders"
	raw := `{"id":"op-9","type":"create","entity":"folder","data":{"name":"x"},"timestamp":5}`

	// When: It is decoded
	var op PendingOperation
	if err := json.Unmarshal([]byte(raw), &op); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	// Then: The payload is kept as an unknown variant
	p, ok := op.Payload.(UnknownPayload)
	if !ok {
		t.Fatalf("Payload = %T, want UnknownPayload", op.Payload)
	}
	if p.Kind != "folder" || string(p.Data) != `{"name":"x"}` {
		t.Errorf("UnknownPayload = %+v", p)
	}

	// And: It re-encodes without loss
	data, err := json.Marshal(op)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"data":{"name":"x"}`) {
		t.Errorf("re-encoded = %s, want original data", data)
	}
}

func TestPendingOperation_Age(t *testing.T) {
	now := time.Now()
	op := PendingOperation{Timestamp: now.Add(-8 * 24 * time.Hour).UnixMilli()}
	if age := op.Age(now); age < 8*24*time.Hour-time.Second {
		t.Errorf("Age() = %v, want about 8 days", age)
	}
}
