package main

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/suPer8Hu/roomstage/internal/store/rabbitmq"
)

type fakeAck struct {
	acks, nacks int
	requeued    bool
}

func (f *fakeAck) Ack(uint64, bool) error {
	f.acks++
	return nil
}

func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacks++
	f.requeued = requeue
	return nil
}

func (f *fakeAck) Reject(uint64, bool) error {
	f.nacks++
	return nil
}

type fakeHook struct {
	err   error
	calls int
}

func (f *fakeHook) Send(context.Context, []byte) error {
	f.calls++
	return f.err
}

type fakeRetry struct {
	attempts []int
	delays   []time.Duration
	err      error
}

func (f *fakeRetry) PublishRetry(_ context.Context, _ []byte, attempt int, delay time.Duration) error {
	f.attempts = append(f.attempts, attempt)
	f.delays = append(f.delays, delay)
	return f.err
}

func delivery(ack *fakeAck, body string, attempt int) amqp.Delivery {
	d := amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(body)}
	if attempt > 0 {
		d.Headers = amqp.Table{rabbitmq.AttemptHeader: int32(attempt)}
	}
	return d
}

const goodEvent = `{"type":"staging.completed","job_id":"01J00000000000000000000000"}`

func TestHandle_DeliveredIsAcked(t *testing.T) {
	ack, hook, retry := &fakeAck{}, &fakeHook{}, &fakeRetry{}
	h := &eventHandler{hook: hook, retry: retry, maxAttempts: 3, log: zerolog.Nop()}

	h.handle(context.Background(), 0, delivery(ack, goodEvent, 0))

	assert.Equal(t, 1, hook.calls)
	assert.Equal(t, 1, ack.acks)
	assert.Empty(t, retry.attempts)
}

func TestHandle_BadMessageDeadLettered(t *testing.T) {
	ack, hook := &fakeAck{}, &fakeHook{}
	h := &eventHandler{hook: hook, retry: &fakeRetry{}, maxAttempts: 3, log: zerolog.Nop()}

	h.handle(context.Background(), 0, delivery(ack, `{"type":"x"}`, 0))

	assert.Equal(t, 0, hook.calls)
	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeued)
}

func TestHandle_FailureSchedulesRetryWithBackoff(t *testing.T) {
	ack, retry := &fakeAck{}, &fakeRetry{}
	h := &eventHandler{hook: &fakeHook{err: errors.New("503")}, retry: retry, maxAttempts: 5, log: zerolog.Nop()}

	h.handle(context.Background(), 0, delivery(ack, goodEvent, 0))
	h.handle(context.Background(), 0, delivery(ack, goodEvent, 2))

	assert.Equal(t, []int{1, 3}, retry.attempts)
	assert.Equal(t, []time.Duration{time.Second, 4 * time.Second}, retry.delays)
	assert.Equal(t, 2, ack.acks)
	assert.Equal(t, 0, ack.nacks)
}

func TestHandle_ExhaustedGoesToDLQ(t *testing.T) {
	ack, retry := &fakeAck{}, &fakeRetry{}
	h := &eventHandler{hook: &fakeHook{err: errors.New("503")}, retry: retry, maxAttempts: 3, log: zerolog.Nop()}

	h.handle(context.Background(), 0, delivery(ack, goodEvent, 2))

	assert.Empty(t, retry.attempts)
	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeued)
}

func TestHandle_NoHookJustAcks(t *testing.T) {
	ack := &fakeAck{}
	h := &eventHandler{retry: &fakeRetry{}, maxAttempts: 3, log: zerolog.Nop()}

	h.handle(context.Background(), 0, delivery(ack, goodEvent, 0))

	assert.Equal(t, 1, ack.acks)
}
