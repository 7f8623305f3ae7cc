// Package serve runs a key server node: encrypted share storage, the Redis
// cluster transport, and the session registry consuming inbound envelopes.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

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
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the key server node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	return cmd
}

func run(ctx context.Context, configPath string) error {
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

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer client.Close()
	tr := transport.NewRedis(client, self, cfg.ChannelPrefix)

	// sessions are constructed lazily when the master's proposal arrives
	factory := func(ctx context.Context, id cluster.SessionID, subSession string, master cluster.NodeID, nonce uint64) (*sharemove.Session, error) {
		var keyShare *cluster.ShareRecord
		threshold := 0
		record, err := store.Get(ctx, id)
		switch {
		case err == nil:
			keyShare = record
			threshold = record.Threshold
		case errors.Is(err, storage.ErrNotFound):
			// joining node, no local share
		default:
			return nil, err
		}

		return sharemove.New(sharemove.Params{
			Meta: cluster.SessionMeta{
				SelfID:    self,
				MasterID:  master,
				SessionID: id,
				Threshold: threshold,
			},
			SubSession: subSession,
			Nonce:      nonce,
			KeyShare:   keyShare,
			Transport:  tr,
			Storage:    store,
		})
	}
	reg := registry.New(self, tr, factory)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("node_id", string(self)).
		Str("redis_addr", cfg.RedisAddr).
		Msg("key server listening")

	err = tr.Listen(ctx, func(ctx context.Context, env *message.Envelope) {
		if err := reg.Deliver(ctx, env); err != nil {
			if errors.Is(err, cluster.ErrTooEarlyForRequest) {
				log.Debug().Err(err).Str("kind", env.Kind).Msg("queued early delivery")
				return
			}
			log.Error().Err(err).
				Str("kind", env.Kind).
				Str("from", string(env.From)).
				Msg("failed to process message")
		}
	})
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("shutting down")
		return nil
	}
	return err
}
