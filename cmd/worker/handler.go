package main

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/roomstage/internal/notify"
	"github.com/suPer8Hu/roomstage/internal/store/rabbitmq"
)

type hookSender interface {
	Send(ctx context.Context, body []byte) error
}

type retryPublisher interface {
	PublishRetry(ctx context.Context, body []byte, attempt int, delay time.Duration) error
}

// eventHandler delivers one staging event to the outbound hook. Failed
// deliveries are parked in the retry queue with exponential backoff until
// maxAttempts, then dead-lettered.
type eventHandler struct {
	hook        hookSender
	retry       retryPublisher
	maxAttempts int
	log         zerolog.Logger
}

func (h *eventHandler) handle(ctx context.Context, workerID int, d amqp.Delivery) {
	log := h.log.With().Int("worker", workerID).Logger()

	var ev notify.Event
	if err := json.Unmarshal(d.Body, &ev); err != nil || ev.JobID == "" {
		log.Warn().Err(err).Msg("bad message")
		_ = d.Nack(false, false)
		return
	}
	log = log.With().Str("job_id", ev.JobID).Str("type", ev.Type).Logger()

	if h.hook == nil {
		log.Info().Msg("staging event")
		h.ack(d, log)
		return
	}

	start := time.Now()
	err := h.hook.Send(ctx, d.Body)
	if err == nil {
		log.Debug().Dur("cost", time.Since(start)).Msg("event delivered")
		h.ack(d, log)
		return
	}

	attempt := rabbitmq.Attempt(d.Headers) + 1
	if attempt >= h.maxAttempts {
		log.Error().Err(err).Int("attempt", attempt).Msg("event delivery exhausted, dead-lettering")
		_ = d.Nack(false, false)
		return
	}

	delay := notify.Backoff(attempt)
	if perr := h.retry.PublishRetry(ctx, d.Body, attempt, delay); perr != nil {
		log.Error().Err(perr).Msg("schedule retry failed, dead-lettering")
		_ = d.Nack(false, false)
		return
	}
	log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("event delivery failed, retry scheduled")
	h.ack(d, log)
}

func (h *eventHandler) ack(d amqp.Delivery, log zerolog.Logger) {
	if err := d.Ack(false); err != nil {
		log.Error().Err(err).Msg("ack failed")
	}
}
