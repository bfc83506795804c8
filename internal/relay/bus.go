package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Bus fans messages out across relay instances serving the same boards.
type Bus interface {
	// Publish sends data for boardID to the other instances.
	Publish(ctx context.Context, boardID string, data []byte) error

	// Run delivers messages from other instances to handle until ctx is
	// cancelled.
	Run(ctx context.Context, handle func(boardID string, data []byte)) error
}

// DefaultChannelPrefix namespaces the Redis channels, one per board.
const DefaultChannelPrefix = "boardsync:board:"

type busMessage struct {
	Instance string          `json:"instance"`
	Board    string          `json:"board"`
	Data     json.RawMessage `json:"data"`
}

// RedisBus is a Bus over Redis pub/sub.
type RedisBus struct {
	client   *redis.Client
	instance string
	prefix   string
	logger   *slog.Logger
	ready    chan struct{}
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus creates a bus on client. instance identifies this relay so
// it can ignore its own publications.
func NewRedisBus(client *redis.Client, instance string, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{
		client:   client,
		instance: instance,
		prefix:   DefaultChannelPrefix,
		logger:   logger.With("instance", instance),
		ready:    make(chan struct{}),
	}
}

// Ready is closed once Run's subscription is confirmed.
func (b *RedisBus) Ready() <-chan struct{} {
	return b.ready
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, boardID string, data []byte) error {
	payload, err := json.Marshal(busMessage{Instance: b.instance, Board: boardID, Data: data})
	if err != nil {
		return fmt.Errorf("encode bus message: %w", err)
	}
	if err := b.client.Publish(ctx, b.prefix+boardID, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", boardID, err)
	}
	return nil
}

// Run implements Bus. It subscribes to every board channel by pattern.
func (b *RedisBus) Run(ctx context.Context, handle func(boardID string, data []byte)) error {
	ps := b.client.PSubscribe(ctx, b.prefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	close(b.ready)
	b.logger.Info("bus subscribed", "pattern", b.prefix+"*")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m busMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				b.logger.Warn("dropping undecodable bus message", "channel", msg.Channel, "error", err)
				continue
			}
			if m.Instance == b.instance {
				continue
			}
			if m.Board == "" {
				m.Board = strings.TrimPrefix(msg.Channel, b.prefix)
			}
			handle(m.Board, m.Data)
		}
	}
}
