package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
)

// Journal event types.
const (
	TypeMigrationStarted       = "MigrationStarted"
	TypeMigrationStepStarted   = "MigrationStepStarted"
	TypeMigrationStepCompleted = "MigrationStepCompleted"
	TypeMigrationStepFailed    = "MigrationStepFailed"
	TypeMigrationFinished      = "MigrationFinished"
	TypeTaskEscalated          = "TaskEscalated"
)

// MigrationStartedPayload describes the resolved path of a run.
type MigrationStartedPayload struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Steps []string `json:"steps"`
}

// StepPayload describes one step outcome.
type StepPayload struct {
	Step       string `json:"step"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// MigrationFinishedPayload records where a run stopped.
type MigrationFinishedPayload struct {
	Version string `json:"version"`
	Error   string `json:"error,omitempty"`
}

// TaskEscalatedPayload mirrors an escalation alert.
type TaskEscalatedPayload struct {
	AlertID             string `json:"alert_id"`
	Task                string `json:"task"`
	Message             string `json:"message"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Error               string `json:"error,omitempty"`
}

// NewEvent builds an unsaved event with a JSON payload.
func NewEvent(runID, eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.InternalError(ErrMarshalPayloadFailed.Message()).
			WithCause(err).
			WithContext("run_id", runID).
			WithContext("type", eventType).
			Build()
	}
	return Event{RunID: runID, Type: eventType, At: time.Now(), Payload: data}, nil
}

// DecodePayload unmarshals an event payload into out.
func DecodePayload(e Event, out any) error {
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return errors.StateError("unmarshal event payload").
			WithCause(err).
			WithContext("type", e.Type).
			Build()
	}
	return nil
}
