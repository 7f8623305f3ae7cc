package transport

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/keymesh/go-cluster-kms/internal/cluster"
	"github.com/keymesh/go-cluster-kms/internal/cluster/message"
)

// Redis is a Transport built on Redis pub/sub: every node subscribes to its
// own channel and peers publish envelopes to it.
type Redis struct {
	client *redis.Client
	self   cluster.NodeID
	prefix string
}

// NewRedis creates a Redis transport for the given node.
func NewRedis(client *redis.Client, self cluster.NodeID, prefix string) *Redis {
	if prefix == "" {
		prefix = "kms:node:"
	}
	return &Redis{client: client, self: self, prefix: prefix}
}

func (t *Redis) channel(node cluster.NodeID) string {
	return t.prefix + string(node)
}

// Send publishes the message to the peer's channel.
func (t *Redis) Send(ctx context.Context, node cluster.NodeID, msg message.ShareMoveMessage) error {
	env, err := message.Seal(t.self, msg)
	if err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "failed to marshal envelope")
	}

	if err := t.client.Publish(ctx, t.channel(node), data).Err(); err != nil {
		return errors.Wrapf(err, "failed to publish to %s", node)
	}
	return nil
}

// Listen subscribes to this node's channel and feeds every inbound envelope
// to the handler. It blocks until ctx is cancelled.
func (t *Redis) Listen(ctx context.Context, handler Handler) error {
	sub := t.client.Subscribe(ctx, t.channel(t.self))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			var env message.Envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				log.Error().Err(err).Str("channel", m.Channel).Msg("dropping malformed envelope")
				continue
			}
			handler(ctx, &env)
		}
	}
}
