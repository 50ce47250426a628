package notify

import (
	"context"
	"encoding/json"
	"time"

	"karavan/internal/events"

	"github.com/rs/zerolog"
)

// Event types published on the bus when a run finalizes.
const (
	EventRunCompleted = "import_run_completed"
	EventRunFailed    = "import_run_failed"
)

// RunEvent is the outbound payload describing one finished execution.
type RunEvent struct {
	JobID          string    `json:"job_id"`
	JobName        string    `json:"job_name"`
	ExecutionID    string    `json:"execution_id"`
	Status         string    `json:"status"`
	ItemsProcessed int       `json:"items_processed"`
	ItemsImported  int       `json:"items_imported"`
	ItemsFailed    int       `json:"items_failed"`
	Error          string    `json:"error,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Notifier delivers a run event to one outbound channel.
type Notifier interface {
	Notify(ctx context.Context, event RunEvent) error
}

// Register subscribes the notifiers to run-completion events on the bus.
// Delivery is fire-and-forget: a failed send is logged and never affects
// the run's own outcome.
func Register(bus *events.EventBus, logger *zerolog.Logger, notifiers ...Notifier) {
	handler := func(event *events.Event) error {
		var payload RunEvent
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			logger.Error().Err(err).Str("event_type", event.Type).Msg("decode run event")
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for _, n := range notifiers {
			if err := n.Notify(ctx, payload); err != nil {
				logger.Warn().Err(err).Str("job_id", payload.JobID).Msg("run notification failed")
			}
		}
		return nil
	}

	bus.Subscribe(EventRunCompleted, handler)
	bus.Subscribe(EventRunFailed, handler)
}
