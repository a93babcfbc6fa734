package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperengineering/flashsync/internal/types"
)

// Field limits, in runes.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	MaxLanguageLength    = 16
	MaxTermLength        = 500
	MaxExampleLength     = 1000
	MaxURLLength         = 2048
	MaxAnswerLength      = 1000
	MaxIDLength          = 128
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateULID returns an error if the value is not a valid ULID format.
// ULIDs are 26 characters using Crockford Base32 (excludes I, L, O, U).
func ValidateULID(field, value string) *ValidationError {
	if len(value) != 26 {
		return &ValidationError{
			Field:   field,
			Message: "must be a valid ULID (26 characters)",
		}
	}

	// Crockford Base32 alphabet: 0123456789ABCDEFGHJKMNPQRSTVWXYZ
	// Excludes: I, L, O, U (to avoid confusion)
	const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	for _, r := range value {
		upper := strings.ToUpper(string(r))
		if !strings.Contains(crockfordBase32, upper) {
			return &ValidationError{
				Field:   field,
				Message: "must be a valid ULID (invalid character)",
			}
		}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateRange returns an error if the value is outside [min, max].
func ValidateRange(field string, value, min, max float64) *ValidationError {
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %.1f and %.1f", min, max),
		}
	}
	return nil
}

// validateText applies the checks shared by every free-text field.
func validateText(c *Collector, field, value string, max int) {
	c.Add(ValidateUTF8(field, value))
	c.Add(ValidateNoNullBytes(field, value))
	c.Add(ValidateMaxLength(field, value, max))
}

func validateCards(c *Collector, cards []types.Card) {
	if len(cards) == 0 {
		c.Add(&ValidationError{Field: "cards", Message: "must contain at least one card"})
		return
	}
	for i, card := range cards {
		prefix := fmt.Sprintf("cards[%d].", i)
		c.Add(ValidateRequired(prefix+"terminology", card.Terminology))
		validateText(c, prefix+"terminology", card.Terminology, MaxTermLength)
		c.Add(ValidateRequired(prefix+"define", card.Define))
		validateText(c, prefix+"define", card.Define, MaxTermLength)
		validateText(c, prefix+"example", card.Example, MaxExampleLength)
		validateText(c, prefix+"image_url", card.ImageURL, MaxURLLength)
		validateText(c, prefix+"part_of_speech", card.PartOfSpeech, MaxLanguageLength*4)
		validateText(c, prefix+"phonetic", card.Phonetic, MaxTermLength)
	}
}

func validateCardSetFields(c *Collector, title, description, language string, cards []types.Card) {
	c.Add(ValidateRequired("title", title))
	validateText(c, "title", title, MaxTitleLength)
	validateText(c, "description", description, MaxDescriptionLength)
	validateText(c, "language", language, MaxLanguageLength)
	validateCards(c, cards)
}

// ValidateCardSetInput checks a create request.
func ValidateCardSetInput(in types.CardSetInput) []ValidationError {
	var c Collector
	validateCardSetFields(&c, in.Title, in.Description, in.Language, in.Cards)
	return c.Errors()
}

// ValidateCardSet checks a full record sent for replacement.
func ValidateCardSet(cs types.CardSet) []ValidationError {
	var c Collector
	validateCardSetFields(&c, cs.Title, cs.Description, cs.Language, cs.Cards)
	return c.Errors()
}

func modeNames() []string {
	names := make([]string, len(types.StudyModes))
	for i, m := range types.StudyModes {
		names[i] = string(m)
	}
	return names
}

func validateSessionFields(c *Collector, in types.SessionInput) {
	c.Add(ValidateRequired("cardset_id", in.CardSetID))
	validateText(c, "cardset_id", in.CardSetID, MaxIDLength)
	c.Add(ValidateEnum("mode", string(in.Mode), modeNames()))
	if in.StartTime.IsZero() {
		c.Add(&ValidationError{Field: "start_time", Message: "is required"})
	}
	if in.EndTime.IsZero() {
		c.Add(&ValidationError{Field: "end_time", Message: "is required"})
	}
	if !in.StartTime.IsZero() && in.EndTime.Before(in.StartTime) {
		c.Add(&ValidationError{Field: "end_time", Message: "must not be before start_time"})
	}
	for i, a := range in.Attempts {
		prefix := fmt.Sprintf("attempts[%d].", i)
		c.Add(ValidateRequired(prefix+"card_id", a.CardID))
		validateText(c, prefix+"card_id", a.CardID, MaxIDLength)
		validateText(c, prefix+"user_answer", a.UserAnswer, MaxAnswerLength)
		if a.TimeSpent < 0 {
			c.Add(&ValidationError{Field: prefix + "time_spent", Message: "must not be negative"})
		}
		// 0 means not rated.
		if a.ConfidenceLevel != 0 {
			c.Add(ValidateRange(prefix+"confidence_level", float64(a.ConfidenceLevel), 1, 5))
		}
	}
}

// ValidateSessionInput checks a create request.
func ValidateSessionInput(in types.SessionInput) []ValidationError {
	var c Collector
	validateSessionFields(&c, in)
	return c.Errors()
}

// ValidateSession checks a full record sent for replacement.
func ValidateSession(s types.StudySession) []ValidationError {
	var c Collector
	validateSessionFields(&c, types.SessionInput{
		CardSetID: s.CardSetID,
		Mode:      s.Mode,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Attempts:  s.Attempts,
	})
	return c.Errors()
}
