package wallet

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github/tokenvest/go-gateway/internal/app"
	"github/tokenvest/go-gateway/internal/registry"
	"github/tokenvest/go-gateway/internal/util/command"
)

// New groups the wallet registry subcommands.
func New() *cobra.Command {
	return command.NewSubcommandGroup("wallet",
		newCreate(),
		newAddChains(),
		newLink(),
		newShow(),
	)
}

type flags struct {
	configPath string
	userID     string
	role       string
}

func (f *flags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to the config file")
	cmd.Flags().StringVar(&f.userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&f.role, "role", registry.RoleInvestor, "user role")
	_ = cmd.MarkFlagRequired("user")
}

func printWallet(w *registry.UserWallet) {
	raw, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to marshal wallet")
	}
	fmt.Println(string(raw))
}

func newCreate() *cobra.Command {
	var (
		f      flags
		chains []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Get or create the user's custodial wallets",
		Run: func(cmd *cobra.Command, _ []string) {
			a, err := app.Boot(f.configPath)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to boot")
			}
			defer a.Close()

			if len(chains) == 0 {
				for _, chain := range a.Config.Chains {
					chains = append(chains, chain.Tag)
				}
			}

			w, err := a.Registry.GetOrCreateWallet(cmd.Context(), f.userID, f.role, chains)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create wallet")
			}
			printWallet(w)
		},
	}

	f.register(cmd)
	cmd.Flags().StringSliceVar(&chains, "chain", nil, "chains to provision (default: all configured)")
	return cmd
}

func newAddChains() *cobra.Command {
	var (
		f      flags
		chains []string
	)

	cmd := &cobra.Command{
		Use:   "add-chains",
		Short: "Provision wallets on additional chains",
		Run: func(cmd *cobra.Command, _ []string) {
			a, err := app.Boot(f.configPath)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to boot")
			}
			defer a.Close()

			w, err := a.Registry.AddChains(cmd.Context(), f.userID, f.role, chains)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to add chains")
			}
			printWallet(w)
		},
	}

	f.register(cmd)
	cmd.Flags().StringSliceVar(&chains, "chain", nil, "chains to add (required)")
	_ = cmd.MarkFlagRequired("chain")
	return cmd
}

func newLink() *cobra.Command {
	var (
		f       flags
		address string
	)

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link a self-custodied external address",
		Run: func(cmd *cobra.Command, _ []string) {
			a, err := app.Boot(f.configPath)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to boot")
			}
			defer a.Close()

			w, err := a.Registry.LinkExternalAddress(cmd.Context(), f.userID, f.role, address)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to link address")
			}
			printWallet(w)
		},
	}

	f.register(cmd)
	cmd.Flags().StringVar(&address, "address", "", "external address (required)")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func newShow() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the user's registered wallets",
		Run: func(cmd *cobra.Command, _ []string) {
			a, err := app.Boot(f.configPath)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to boot")
			}
			defer a.Close()

			w, err := a.Registry.Wallet(cmd.Context(), f.userID, f.role)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to load wallet")
			}
			if w == nil {
				log.Fatal().Str("user_id", f.userID).Str("role", f.role).Msg("No wallet registered")
			}
			printWallet(w)
		},
	}

	f.register(cmd)
	return cmd
}
