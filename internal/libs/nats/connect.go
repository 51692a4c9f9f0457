// Package natsq wraps the NATS client setup shared by the job publisher and
// the pull-consuming runner.
package natsq

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

type Config struct {
	Name          string
	MaxReconnects int
}

// NewConnect dials url, identifying the client by cfg.Name so connections
// are attributable in server monitoring.
func NewConnect(url string, cfg Config) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}

	return nc, nil
}

// NewJetStream opens a JetStream context over nc and declares the stream. A
// stream left over from a previous run is fine; any other AddStream failure
// is not.
func NewJetStream(nc *nats.Conn, cfg *nats.StreamConfig) (nats.JetStreamContext, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("open jetstream context: %w", err)
	}

	if _, err := js.AddStream(cfg); err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("declare stream %q: %w", cfg.Name, err)
	}

	return js, nil
}
