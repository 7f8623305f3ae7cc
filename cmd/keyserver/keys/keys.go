// Package keys holds operator tooling for local share records: dealer-based
// bootstrap of a fresh secret and inspection of the local store.
package keys

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/keymesh/go-cluster-kms/internal/cluster"
	"github.com/keymesh/go-cluster-kms/internal/cluster/math"
	"github.com/keymesh/go-cluster-kms/internal/cluster/storage"
	"github.com/keymesh/go-cluster-kms/internal/config"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Share record tools",
	}

	cmd.AddCommand(newDealCmd(), newImportCmd(), newListCmd())
	return cmd
}

func newImportCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
		file       string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a dealt share record into the local store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(file)
			if err != nil {
				return errors.Wrapf(err, "failed to read %s", file)
			}
			var record cluster.ShareRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return errors.Wrap(err, "failed to unmarshal record")
			}

			store, err := storage.NewFile(cfg.StoragePath, cfg.StoragePassphrase)
			if err != nil {
				return err
			}
			return store.Insert(cmd.Context(), cluster.SessionID(sessionID), &record)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	cmd.Flags().StringVar(&sessionID, "id", "", "Secret id the record belongs to")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Record file produced by keys deal")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newDealCmd() *cobra.Command {
	var (
		sessionID string
		threshold int
		holders   []string
		outDir    string
		author    string
	)

	cmd := &cobra.Command{
		Use:   "deal",
		Short: "Trusted-dealer bootstrap: generate share records for a fresh secret",
		Long: "Generates one share record per holder for a new secret and writes each " +
			"record as JSON into the output directory, named by holder node id. " +
			"Distribute every file to its node out of band.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(holders) < threshold+1 {
				return errors.Errorf("need at least %d holders for threshold %d", threshold+1, threshold)
			}
			if sessionID == "" {
				sessionID = uuid.New().String()
			}

			holderIDs := make([]cluster.NodeID, len(holders))
			for i, h := range holders {
				holderIDs[i] = cluster.NodeID(h)
			}

			records, _, err := math.Deal(cluster.NodeID(author), threshold, holderIDs)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0700); err != nil {
				return errors.Wrap(err, "failed to create output directory")
			}
			for node, record := range records {
				data, err := json.MarshalIndent(record, "", "  ")
				if err != nil {
					return errors.Wrap(err, "failed to marshal record")
				}
				path := filepath.Join(outDir, string(node)+".json")
				if err := os.WriteFile(path, data, 0600); err != nil {
					return errors.Wrapf(err, "failed to write %s", path)
				}
			}

			cmd.Println(sessionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "id", "", "Secret id (defaults to a fresh UUID)")
	cmd.Flags().IntVarP(&threshold, "threshold", "t", 1, "Sharing polynomial degree; threshold+1 shares reconstruct")
	cmd.Flags().StringSliceVar(&holders, "holder", nil, "Holder node ids (repeat per holder)")
	cmd.Flags().StringVar(&author, "author", "", "Author node id recorded on every share")
	cmd.Flags().StringVarP(&outDir, "out", "o", "dealt-shares", "Output directory for the record files")
	return cmd
}

func newListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List secrets with a share record in the local store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			store, err := storage.NewFile(cfg.StoragePath, cfg.StoragePassphrase)
			if err != nil {
				return err
			}

			ids, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				cmd.Println(id)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	return cmd
}
