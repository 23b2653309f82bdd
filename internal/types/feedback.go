package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/care/postura/internal/guide"
)

// FeedbackEvent is the per-frame verdict published to the feedback topic
type FeedbackEvent struct {
	InstanceID      string             `json:"instance_id"`
	SessionID       string             `json:"session_id"`
	ExerciseID      string             `json:"exercise_id"`
	Mode            string             `json:"mode"`
	Seq             uint64             `json:"seq"`
	TraceID         string             `json:"trace_id,omitempty"`
	Time            time.Time          `json:"timestamp"`
	IsCorrect       bool               `json:"is_correct"`
	Messages        []string           `json:"messages"`
	Message         string             `json:"message"`
	MessageChanged  bool               `json:"message_changed"`
	AnnotatedAngles map[string]float64 `json:"annotated_angles"`
	Guides          []guide.Guide      `json:"guides"`
	Evaluated       int                `json:"evaluated"`
	Suppressed      string             `json:"suppressed_side,omitempty"`
	InferenceMS     float64            `json:"inference_ms"`
}

// ToJSON converts the event to JSON bytes
func (e *FeedbackEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// StatusEvent is a lifecycle message (camera ready, clip finished, ...)
type StatusEvent struct {
	InstanceID string    `json:"instance_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Mode       string    `json:"mode"`
	Message    string    `json:"message"`
	Time       time.Time `json:"timestamp"`
}

// ToJSON converts the event to JSON bytes
func (e *StatusEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Difficulty is the patient's self-reported effort for a session
type Difficulty string

const (
	DifficultyVeryEasy   Difficulty = "very_easy"
	DifficultyEasy       Difficulty = "easy"
	DifficultyNormal     Difficulty = "normal"
	DifficultyHard       Difficulty = "hard"
	DifficultyImpossible Difficulty = "impossible"
)

// SessionOutcome is authored by the UI at session end and forwarded to storage
type SessionOutcome struct {
	SessionID  string     `json:"session_id"`
	ExerciseID string     `json:"exercise_id"`
	Difficulty Difficulty `json:"difficulty"`
	Pain       bool       `json:"pain"`
	Comment    string     `json:"comment,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// Valid reports whether d is one of the five known levels
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyVeryEasy, DifficultyEasy, DifficultyNormal, DifficultyHard, DifficultyImpossible:
		return true
	}
	return false
}

// Validate checks the outcome fields every stored record must carry
func (o *SessionOutcome) Validate() error {
	if !o.Difficulty.Valid() {
		return fmt.Errorf("invalid difficulty %q", o.Difficulty)
	}
	if o.ExerciseID == "" {
		return fmt.Errorf("exercise_id is required")
	}
	return nil
}

// ToJSON converts the outcome to JSON bytes
func (o *SessionOutcome) ToJSON() ([]byte, error) {
	return json.Marshal(o)
}
