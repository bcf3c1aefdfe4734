package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

const (
	EventCompleted = "staging.completed"
	EventFailed    = "staging.failed"
)

type Event struct {
	Type           string    `json:"type"`
	JobID          string    `json:"job_id"`
	UserID         uint64    `json:"user_id"`
	PropertyID     string    `json:"property_id,omitempty"`
	RoomType       string    `json:"room_type"`
	Style          string    `json:"style"`
	Provider       string    `json:"provider"`
	StagedImageURL string    `json:"staged_image_url,omitempty"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Notifier is told about terminal transitions. Calls are fire-and-forget:
// a failed notification never affects the job.
type Notifier interface {
	NotifyComplete(ctx context.Context, ev Event)
	NotifyFailed(ctx context.Context, ev Event)
}

type EventPublisher interface {
	Publish(ctx context.Context, body []byte) error
}

// QueueNotifier publishes events for the notification worker.
type QueueNotifier struct {
	pub EventPublisher
	log zerolog.Logger
}

func NewQueueNotifier(pub EventPublisher, log zerolog.Logger) *QueueNotifier {
	return &QueueNotifier{pub: pub, log: log.With().Str("component", "notify").Logger()}
}

func (n *QueueNotifier) NotifyComplete(ctx context.Context, ev Event) {
	ev.Type = EventCompleted
	n.publish(ctx, ev)
}

func (n *QueueNotifier) NotifyFailed(ctx context.Context, ev Event) {
	ev.Type = EventFailed
	n.publish(ctx, ev)
}

func (n *QueueNotifier) publish(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		n.log.Error().Err(err).Str("job_id", ev.JobID).Msg("encode event")
		return
	}
	// detached so a finished request does not drop the event
	if err := n.pub.Publish(context.WithoutCancel(ctx), body); err != nil {
		n.log.Error().Err(err).Str("job_id", ev.JobID).Str("type", ev.Type).Msg("publish event failed")
		return
	}
	n.log.Debug().Str("job_id", ev.JobID).Str("type", ev.Type).Msg("event published")
}

// LogNotifier only records events; used when no broker is configured.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) NotifyComplete(_ context.Context, ev Event) {
	n.log.Info().Str("job_id", ev.JobID).Uint64("user_id", ev.UserID).Str("room_type", ev.RoomType).Msg("staging completed")
}

func (n *LogNotifier) NotifyFailed(_ context.Context, ev Event) {
	n.log.Info().Str("job_id", ev.JobID).Uint64("user_id", ev.UserID).Str("error", ev.Error).Msg("staging failed")
}
