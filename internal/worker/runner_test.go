package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenQueue struct {
	err error
}

func (q *brokenQueue) Subscribe(string, int) (*nats.Subscription, error) {
	return nil, q.err
}

func TestRunner_SubscribeFailureIsFatalAndStopReturns(t *testing.T) {
	r := NewRunner(&brokenQueue{err: errors.New("stream not found")}, nil, nil, nil, 2, time.Hour, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	err := r.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue subscribe")

	// Stop must not wait for workers that were never started
	cancel()
	stopped := make(chan struct{})
	go func() {
		r.Stop(ctx)
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop hung after a failed Run")
	}
}
