// Package identity manages node keys and identifiers.
package identity

import (
	"github.com/spf13/cobra"

	"github.com/keymesh/go-cluster-kms/internal/cluster"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Node identity tools",
	}

	cmd.AddCommand(newGenCmd(), newShowCmd())
	return cmd
}

func newGenCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a node key and print its node id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := cluster.GenerateNodeKey()
			if err != nil {
				return err
			}
			if err := cluster.SaveNodeKey(out, key); err != nil {
				return err
			}
			cmd.Println(cluster.NodeIDFromPublicKey(&key.PublicKey))
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "node.key", "Output file for the node key")
	return cmd
}

func newShowCmd() *cobra.Command {
	var keyFile string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the node id of an existing node key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := cluster.LoadNodeKey(keyFile)
			if err != nil {
				return err
			}
			cmd.Println(cluster.NodeIDFromPublicKey(&key.PublicKey))
			return nil
		},
	}

	cmd.Flags().StringVarP(&keyFile, "key", "k", "node.key", "Node key file")
	return cmd
}
