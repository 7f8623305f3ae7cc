package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/keymesh/go-cluster-kms/cmd/keyserver/identity"
	"github.com/keymesh/go-cluster-kms/cmd/keyserver/keys"
	"github.com/keymesh/go-cluster-kms/cmd/keyserver/move"
	"github.com/keymesh/go-cluster-kms/cmd/keyserver/serve"
)

func main() {
	root := &cobra.Command{
		Use:          "keyserver",
		Short:        "Distributed key management service node",
		SilenceUsage: true,
	}

	root.AddCommand(
		serve.New(),
		identity.New(),
		keys.New(),
		move.New(),
	)

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}
