package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityKind names a synchronized entity type
type EntityKind string

const (
	EntityCardSet    EntityKind = "cardset"
	EntityStatistics EntityKind = "statistics"
)

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	return k == EntityCardSet || k == EntityStatistics
}

// OperationType names the kind of mutation carried by a pending operation
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// Valid reports whether t is a known operation type.
func (t OperationType) Valid() bool {
	return t == OpCreate || t == OpUpdate || t == OpDelete
}

// Entity is implemented by every cached record type.
type Entity interface {
	EntityID() string
	Updated() time.Time
}

// Card is a single term/definition pair inside a card set
type Card struct {
	ID           string `json:"id"`
	Terminology  string `json:"terminology"`
	Define       string `json:"define"`
	Example      string `json:"example,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
	PartOfSpeech string `json:"part_of_speech,omitempty"`
	Phonetic     string `json:"phonetic,omitempty"`
}

// CardSet is a titled collection of cards
type CardSet struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id,omitempty"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Language      string    `json:"language,omitempty"`
	Cards         []Card    `json:"cards"`
	IsPublic      bool      `json:"is_public"`
	DownloadCount int       `json:"download_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (c CardSet) EntityID() string   { return c.ID }
func (c CardSet) Updated() time.Time { return c.UpdatedAt }

// CardSetInput carries the fields a caller supplies to create a card set
type CardSetInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
	Cards       []Card `json:"cards"`
	IsPublic    bool   `json:"is_public"`
}

// NewCardSet builds a card set record from input. Cards without an id get
// a positional one scoped to the set.
func NewCardSet(id string, in CardSetInput, now time.Time) CardSet {
	cards := make([]Card, len(in.Cards))
	copy(cards, in.Cards)
	for i := range cards {
		if cards[i].ID == "" {
			cards[i].ID = fmt.Sprintf("card-%d-%d", now.UnixMilli(), i)
		}
	}
	return CardSet{
		ID:          id,
		Title:       in.Title,
		Description: in.Description,
		Language:    in.Language,
		Cards:       cards,
		IsPublic:    in.IsPublic,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CardSetPatch lists the fields to change on a card set. Nil fields are
// left untouched.
type CardSetPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Language    *string `json:"language,omitempty"`
	Cards       []Card  `json:"cards,omitempty"`
	IsPublic    *bool   `json:"is_public,omitempty"`
}

// Apply returns cs with the patch applied and UpdatedAt set to now.
func (p CardSetPatch) Apply(cs CardSet, now time.Time) CardSet {
	if p.Title != nil {
		cs.Title = *p.Title
	}
	if p.Description != nil {
		cs.Description = *p.Description
	}
	if p.Language != nil {
		cs.Language = *p.Language
	}
	if p.Cards != nil {
		cs.Cards = make([]Card, len(p.Cards))
		copy(cs.Cards, p.Cards)
	}
	if p.IsPublic != nil {
		cs.IsPublic = *p.IsPublic
	}
	cs.UpdatedAt = now
	return cs
}

// StudyMode is the way a study session was run
type StudyMode string

const (
	ModeFlashcard StudyMode = "flashcard"
	ModeTest      StudyMode = "test"
	ModeWrite     StudyMode = "write"
	ModeLearn     StudyMode = "learn"
)

// StudyModes lists the known study modes.
var StudyModes = []StudyMode{ModeFlashcard, ModeTest, ModeWrite, ModeLearn}

// Valid reports whether m is a known study mode.
func (m StudyMode) Valid() bool {
	switch m {
	case ModeFlashcard, ModeTest, ModeWrite, ModeLearn:
		return true
	}
	return false
}

// CardAttempt records one answer given during a session
type CardAttempt struct {
	CardID          string    `json:"card_id"`
	Correct         bool      `json:"correct"`
	TimeSpent       float64   `json:"time_spent"`
	UserAnswer      string    `json:"user_answer,omitempty"`
	ConfidenceLevel int       `json:"confidence_level,omitempty"`
	AttemptedAt     time.Time `json:"attempted_at"`
}

// StudySession is a recorded study session, the "statistics" entity
type StudySession struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id,omitempty"`
	CardSetID  string        `json:"cardset_id"`
	Mode       StudyMode     `json:"mode"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   int64         `json:"duration"`
	TotalCards int           `json:"total_cards"`
	Correct    int           `json:"correct"`
	Incorrect  int           `json:"incorrect"`
	Accuracy   float64       `json:"accuracy"`
	Attempts   []CardAttempt `json:"attempts"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

func (s StudySession) EntityID() string   { return s.ID }
func (s StudySession) Updated() time.Time { return s.UpdatedAt }

// Summarize recomputes the derived totals from the attempts.
func (s *StudySession) Summarize() {
	s.Duration = int64(s.EndTime.Sub(s.StartTime) / time.Second)
	s.TotalCards = len(s.Attempts)
	s.Correct = 0
	for _, a := range s.Attempts {
		if a.Correct {
			s.Correct++
		}
	}
	s.Incorrect = s.TotalCards - s.Correct
	s.Accuracy = 0
	if s.TotalCards > 0 {
		s.Accuracy = float64(s.Correct) / float64(s.TotalCards) * 100
	}
}

// SessionInput carries the fields a caller supplies to record a session
type SessionInput struct {
	CardSetID string        `json:"cardset_id"`
	Mode      StudyMode     `json:"mode"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Attempts  []CardAttempt `json:"attempts"`
}

// NewStudySession builds a session record from input with derived totals.
func NewStudySession(id string, in SessionInput, now time.Time) StudySession {
	attempts := make([]CardAttempt, len(in.Attempts))
	copy(attempts, in.Attempts)
	s := StudySession{
		ID:        id,
		CardSetID: in.CardSetID,
		Mode:      in.Mode,
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		Attempts:  attempts,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.Summarize()
	return s
}

// SessionPatch lists the fields to change on a session
type SessionPatch struct {
	Mode     *StudyMode    `json:"mode,omitempty"`
	EndTime  *time.Time    `json:"end_time,omitempty"`
	Attempts []CardAttempt `json:"attempts,omitempty"`
}

// Apply returns s with the patch applied, totals recomputed and UpdatedAt
// set to now.
func (p SessionPatch) Apply(s StudySession, now time.Time) StudySession {
	if p.Mode != nil {
		s.Mode = *p.Mode
	}
	if p.EndTime != nil {
		s.EndTime = *p.EndTime
	}
	if p.Attempts != nil {
		s.Attempts = make([]CardAttempt, len(p.Attempts))
		copy(s.Attempts, p.Attempts)
	}
	s.Summarize()
	s.UpdatedAt = now
	return s
}

// Overview aggregates a user's sessions
type Overview struct {
	TotalSessions    int     `json:"total_sessions"`
	TotalStudyTime   int64   `json:"total_study_time"`
	CardsStudied     int     `json:"total_cards_studied"`
	CorrectAnswers   int     `json:"correct_answers"`
	IncorrectAnswers int     `json:"incorrect_answers"`
	OverallAccuracy  float64 `json:"overall_accuracy"`
}

// Summarize aggregates sessions into an Overview.
func Summarize(sessions []StudySession) Overview {
	var o Overview
	for _, s := range sessions {
		o.TotalSessions++
		o.TotalStudyTime += s.Duration
		o.CardsStudied += s.TotalCards
		o.CorrectAnswers += s.Correct
		o.IncorrectAnswers += s.Incorrect
	}
	if answered := o.CorrectAnswers + o.IncorrectAnswers; answered > 0 {
		o.OverallAccuracy = float64(o.CorrectAnswers) / float64(answered) * 100
	}
	return o
}

const tempIDPrefix = "temp_"

// NewTempID returns a client-generated id for a record the server has not
// assigned an id to yet.
func NewTempID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s%d_%s", tempIDPrefix, now.UnixMilli(), suffix)
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}
