package env

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github/tokenvest/go-gateway/internal/config"
)

// New prints the effective configuration after defaults, file, and ENV
// are merged. Secrets are redacted.
func New() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print the effective configuration",
		Run: func(_ *cobra.Command, _ []string) {
			cfg, err := config.Load(configPath)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to load config")
			}

			redacted := *cfg
			if redacted.Signer.APIKey != "" {
				redacted.Signer.APIKey = "[redacted]"
			}

			raw, err := json.MarshalIndent(redacted, "", "  ")
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to marshal config")
			}

			fmt.Println(string(raw))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the config file")
	return cmd
}
