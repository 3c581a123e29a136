// Package stream publishes operator-protocol frames to a Redis-backed
// goa.design/pulse stream, so status/progress/thinking/log frames can be
// consumed by out-of-process observability tooling and not only by
// directly connected operator sockets. It extends the hub's in-process
// fan-out; it never replaces the websocket transport operator/server
// implements.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"goagent.dev/mobileagent/operator"
)

// Client exposes the subset of Pulse operations the publisher needs.
type Client interface {
	Stream(name string, opts ...streamopts.Stream) (Stream, error)
	Close(ctx context.Context) error
}

// Stream exposes the single operation the publisher needs: appending a
// frame to the named Pulse stream.
type Stream interface {
	Add(ctx context.Context, event string, payload []byte) (string, error)
}

// Publisher forwards operator.Envelope frames onto a Pulse stream keyed by
// goal id, mirroring operator.Hub's in-process broadcast but for
// out-of-process subscribers.
type Publisher struct {
	client Client
	stream func(goalID string) string
}

// NewPublisher constructs a Publisher. streamName defaults to
// "agent/<goalID>" when nil.
func NewPublisher(client Client, streamName func(goalID string) string) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("stream: pulse client is required")
	}
	if streamName == nil {
		streamName = func(goalID string) string { return fmt.Sprintf("agent/%s", goalID) }
	}
	return &Publisher{client: client, stream: streamName}, nil
}

// Publish appends env to the Pulse stream associated with goalID.
func (p *Publisher) Publish(ctx context.Context, goalID string, env *operator.Envelope) error {
	s, err := p.client.Stream(p.stream(goalID))
	if err != nil {
		return fmt.Errorf("stream: open pulse stream: %w", err)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("stream: marshal envelope: %w", err)
	}
	if _, err := s.Add(ctx, env.Type, payload); err != nil {
		return fmt.Errorf("stream: publish: %w", err)
	}
	return nil
}

// pulseClient adapts a raw goa.design/pulse/streaming connection (backed by
// a go-redis client elsewhere in the process) to the Client interface
// above.
type pulseClient struct {
	redisFactory func(name string) (*streaming.Stream, error)
}

// NewRedisBackedClient wraps streamFactory (typically
// streaming.NewStream(name, redisConn, opts...)) as a Client.
func NewRedisBackedClient(streamFactory func(name string) (*streaming.Stream, error)) Client {
	return &pulseClient{redisFactory: streamFactory}
}

func (c *pulseClient) Stream(name string, _ ...streamopts.Stream) (Stream, error) {
	s, err := c.redisFactory(name)
	if err != nil {
		return nil, err
	}
	return &pulseStream{s: s}, nil
}

func (c *pulseClient) Close(ctx context.Context) error { return nil }

type pulseStream struct{ s *streaming.Stream }

func (s *pulseStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if s.s == nil {
		return "", errors.New("stream: nil pulse stream")
	}
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.s.Add(opCtx, event, payload)
}
