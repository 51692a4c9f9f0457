package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

type queue struct {
	js      nats.JetStreamContext
	subject string
}

func New(js nats.JetStreamContext, subject string) *queue {
	return &queue{
		js:      js,
		subject: subject,
	}
}

// Enqueue hands a freshly admitted job off to the background runner. The
// caller returns to the client as soon as the publish is acknowledged.
func (q *queue) Enqueue(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("empty jobID")
	}

	msg := &nats.Msg{
		Subject: q.subject,
		Data:    []byte(jobID),
		Header:  nats.Header{},
	}

	ack, err := q.js.PublishMsg(msg)
	if err != nil {
		return fmt.Errorf("enqueue job %s: publish failed: %w", jobID, err)
	}

	slog.Debug(
		"job enqueued",
		slog.String("job_id", jobID),
		slog.String("subject", q.subject),
		slog.String("stream", ack.Stream),
		slog.Uint64("seq", ack.Sequence),
	)

	return nil
}

// Subscribe creates (or reuses) the durable pull consumer the runner reads
// admitted job ids from.
func (q *queue) Subscribe(durable string, maxAckPending int) (*nats.Subscription, error) {
	_, err := q.js.AddConsumer(streamName, &nats.ConsumerConfig{
		Durable:       durable,
		AckPolicy:     nats.AckExplicitPolicy,
		FilterSubject: q.subject,
		MaxAckPending: maxAckPending,
	})
	if err != nil && !errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		return nil, fmt.Errorf("JetStream AddConsumer: %w", err)
	}

	sub, err := q.js.PullSubscribe(q.subject, durable)
	if err != nil {
		return nil, fmt.Errorf("JetStream PullSubscribe: %w", err)
	}

	return sub, nil
}

const streamName = "INTERVIEW_JOBS"

// StreamName is used by the bootstrap code to declare the backing stream.
func StreamName() string { return streamName }
