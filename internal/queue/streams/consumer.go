package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reader replays a run's stream from any entry id. Run streams have a single
// logical consumer per subscriber, so no consumer group is involved.
type Reader struct {
	client   *redis.Client
	registry *SchemaRegistry
}

// ReadOption configures a single XREAD call.
type ReadOption func(*redis.XReadArgs)

// WithBlock waits up to d for new entries. Without it reads never block.
func WithBlock(d time.Duration) ReadOption {
	return func(args *redis.XReadArgs) {
		if d > 0 {
			args.Block = d
		}
	}
}

// WithCount caps the number of messages returned in a single read.
func WithCount(n int64) ReadOption {
	return func(args *redis.XReadArgs) {
		if n > 0 {
			args.Count = n
		}
	}
}

// NewReader builds a reader. registry may be nil to skip payload validation.
func NewReader(client *redis.Client, registry *SchemaRegistry) *Reader {
	return &Reader{client: client, registry: registry}
}

// Message represents a consumed stream entry.
type Message struct {
	ID       string
	Envelope Envelope
}

// Read returns entries after the given id; "" or "0" reads from the beginning.
// Entries that fail to decode or validate are skipped.
func (r *Reader) Read(ctx context.Context, stream, after string, opts ...ReadOption) ([]Message, error) {
	if stream == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if after == "" {
		after = "0"
	}
	args := &redis.XReadArgs{
		Streams: []string{stream, after},
		Block:   -1,
	}
	for _, opt := range opts {
		opt(args)
	}

	streams, err := r.client.XRead(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xread: %w", err)
	}

	var out []Message
	for _, st := range streams {
		for _, msg := range st.Messages {
			if decoded, ok := r.decodeMessage(msg); ok {
				out = append(out, decoded)
			}
		}
	}
	return out, nil
}

func (r *Reader) decodeMessage(msg redis.XMessage) (Message, bool) {
	raw, ok := msg.Values["envelope"]
	if !ok {
		return Message{}, false
	}

	var bytesData []byte
	switch v := raw.(type) {
	case string:
		bytesData = []byte(v)
	case []byte:
		bytesData = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return Message{}, false
		}
		bytesData = data
	}

	env, err := UnmarshalEnvelope(bytesData)
	if err != nil {
		return Message{}, false
	}
	if r.registry != nil {
		if err := r.registry.Validate(env.EventType, env.PayloadVersion, env.Data); err != nil {
			return Message{}, false
		}
	}
	return Message{ID: msg.ID, Envelope: env}, true
}
