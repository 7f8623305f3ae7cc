// Package move is the admin entry point for relocating shares: it runs a
// one-shot master node that proposes the mapping and drives the session to
// completion.
package move

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/keymesh/go-cluster-kms/internal/cluster"
	"github.com/keymesh/go-cluster-kms/internal/cluster/message"
	"github.com/keymesh/go-cluster-kms/internal/cluster/registry"
	"github.com/keymesh/go-cluster-kms/internal/cluster/sharemove"
	"github.com/keymesh/go-cluster-kms/internal/cluster/storage"
	"github.com/keymesh/go-cluster-kms/internal/cluster/transport"
	"github.com/keymesh/go-cluster-kms/internal/config"
	"github.com/keymesh/go-cluster-kms/internal/util/logutil"
)

func New() *cobra.Command {
	var (
		configPath string
		sessionID  string
		moves      []string
		wait       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "move",
		Short: "Relocate shares of a secret to new nodes (runs as master)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mapping, err := parseMoves(moves)
			if err != nil {
				return err
			}
			return run(cmd.Context(), configPath, cluster.SessionID(sessionID), mapping, wait)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	cmd.Flags().StringVar(&sessionID, "id", "", "Secret id to operate on")
	cmd.Flags().StringArrayVar(&moves, "move", nil, "Share move as source=destination (repeatable)")
	cmd.Flags().DurationVar(&wait, "wait", time.Minute, "How long to wait for the session to finish")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("move")
	return cmd
}

func parseMoves(moves []string) (map[cluster.NodeID]cluster.NodeID, error) {
	mapping := make(map[cluster.NodeID]cluster.NodeID, len(moves))
	for _, m := range moves {
		source, target, ok := strings.Cut(m, "=")
		if !ok || source == "" || target == "" {
			return nil, errors.Errorf("malformed move %q, want source=destination", m)
		}
		if _, dup := mapping[cluster.NodeID(source)]; dup {
			return nil, errors.Errorf("source %s listed twice", source)
		}
		mapping[cluster.NodeID(source)] = cluster.NodeID(target)
	}
	return mapping, nil
}

func run(ctx context.Context, configPath string, id cluster.SessionID, mapping map[cluster.NodeID]cluster.NodeID, wait time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logutil.Setup(cfg.LogLevel)

	nodeKey, err := cluster.LoadNodeKey(cfg.NodeKeyFile)
	if err != nil {
		return err
	}
	self := cluster.NodeIDFromPublicKey(&nodeKey.PublicKey)

	store, err := storage.NewFile(cfg.StoragePath, cfg.StoragePassphrase)
	if err != nil {
		return err
	}
	record, err := store.Get(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "this node holds no share of %s", id)
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer client.Close()
	tr := transport.NewRedis(client, self, cfg.ChannelPrefix)

	session, err := sharemove.New(sharemove.Params{
		Meta: cluster.SessionMeta{
			SelfID:    self,
			MasterID:  self,
			SessionID: id,
			Threshold: record.Threshold,
		},
		SubSession: registry.NewSubSession(),
		Nonce:      uint64(time.Now().UnixNano()),
		KeyShare:   record,
		Transport:  tr,
		Storage:    store,
	})
	if err != nil {
		return err
	}

	reg := registry.New(self, tr, nil)
	if err := reg.Register(session); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- tr.Listen(ctx, func(ctx context.Context, env *message.Envelope) {
			if err := reg.Deliver(ctx, env); err != nil {
				log.Error().Err(err).Str("kind", env.Kind).Msg("failed to process message")
			}
		})
	}()

	// give the subscription a moment to establish before proposing
	time.Sleep(100 * time.Millisecond)
	if err := session.Initialize(ctx, mapping); err != nil {
		return err
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.New("share move did not finish in time")
		case err := <-listenErr:
			if !errors.Is(err, context.Canceled) {
				return err
			}
		case <-ticker.C:
			if session.IsFinished() {
				log.Info().
					Str("session_id", string(id)).
					Msg("share move finished")
				return nil
			}
		}
	}
}
