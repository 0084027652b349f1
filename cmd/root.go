package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github/tokenvest/go-gateway/cmd/balance"
	"github/tokenvest/go-gateway/cmd/env"
	"github/tokenvest/go-gateway/cmd/product"
	"github/tokenvest/go-gateway/cmd/transfer"
	"github/tokenvest/go-gateway/cmd/wallet"
	"github/tokenvest/go-gateway/internal/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Version: config.GetFormattedBuildArgs(),
	Use:     "gateway",
	Short:   config.ModuleName,
	Long: fmt.Sprintf(`%v

Cross-chain USDC settlement coordinator.
Requires configuration through a config file or ENV.`, config.ModuleName),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	// attach the subcommands
	rootCmd.AddCommand(
		balance.New(),
		env.New(),
		product.New(),
		transfer.New(),
		wallet.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Failed to execute root command")
		os.Exit(1)
	}
}
