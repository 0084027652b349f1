package product

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github/tokenvest/go-gateway/internal/app"
	"github/tokenvest/go-gateway/internal/gateway/units"
	"github/tokenvest/go-gateway/internal/ledger"
	"github/tokenvest/go-gateway/internal/util/command"
)

// New groups the investment ledger subcommands.
func New() *cobra.Command {
	return command.NewSubcommandGroup("product",
		newShow(),
		newSubscribe(),
		newDeclare(),
		newClaim(),
	)
}

type flags struct {
	configPath string
	chain      string
	productID  int64
}

func (f *flags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to the config file")
	cmd.Flags().StringVar(&f.chain, "chain", "", "chain tag (required)")
	cmd.Flags().Int64Var(&f.productID, "product", 0, "product id (required)")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("product")
}

func boot(configPath string) (*app.App, ledger.Service) {
	a, err := app.Boot(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to boot")
	}

	svc, err := a.Ledger()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build ledger adapter")
	}
	return a, svc
}

func newShow() *cobra.Command {
	var (
		f        flags
		investor string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a product, optionally with an investor's position",
		Run: func(cmd *cobra.Command, _ []string) {
			a, svc := boot(f.configPath)
			defer a.Close()
			ctx := cmd.Context()
			id := big.NewInt(f.productID)

			product, err := svc.Product(ctx, f.chain, id)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to load product")
			}

			out := map[string]interface{}{
				"id":         product.ID.String(),
				"name":       product.Name,
				"unitPrice":  units.FromMicros(product.UnitPriceMicros),
				"totalUnits": product.TotalUnits.String(),
				"active":     product.Active,
			}

			if investor != "" {
				address := common.HexToAddress(investor)
				holdings, err := svc.Holdings(ctx, f.chain, id, address)
				if err != nil {
					log.Fatal().Err(err).Msg("Failed to load holdings")
				}
				claimable, err := svc.ClaimableDividend(ctx, f.chain, id, address)
				if err != nil {
					log.Fatal().Err(err).Msg("Failed to load claimable dividend")
				}
				out["holdings"] = holdings.String()
				out["claimableDividend"] = units.FromMicros(claimable)
			}

			raw, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to marshal product")
			}
			fmt.Println(string(raw))
		},
	}

	f.register(cmd)
	cmd.Flags().StringVar(&investor, "investor", "", "investor address to include position for")
	return cmd
}

func newSubscribe() *cobra.Command {
	var (
		f        flags
		walletID string
		unitsN   int64
	)

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe to product units under a custodial wallet",
		Run: func(cmd *cobra.Command, _ []string) {
			a, svc := boot(f.configPath)
			defer a.Close()

			opID, err := svc.Subscribe(cmd.Context(), f.chain, walletID,
				big.NewInt(f.productID), big.NewInt(unitsN))
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to subscribe")
			}
			fmt.Println(opID)
		},
	}

	f.register(cmd)
	cmd.Flags().StringVar(&walletID, "wallet", "", "custodial wallet id (required)")
	cmd.Flags().Int64Var(&unitsN, "units", 0, "units to subscribe (required)")
	_ = cmd.MarkFlagRequired("wallet")
	_ = cmd.MarkFlagRequired("units")
	return cmd
}

func newDeclare() *cobra.Command {
	var (
		f        flags
		walletID string
		amount   string
	)

	cmd := &cobra.Command{
		Use:   "declare",
		Short: "Declare a dividend pot for a product",
		Run: func(cmd *cobra.Command, _ []string) {
			a, svc := boot(f.configPath)
			defer a.Close()

			amountMicros, err := units.ToMicros(amount)
			if err != nil {
				log.Fatal().Err(err).Str("amount", amount).Msg("Invalid amount")
			}

			opID, err := svc.DeclareDividend(cmd.Context(), f.chain, walletID,
				big.NewInt(f.productID), amountMicros)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to declare dividend")
			}
			fmt.Println(opID)
		},
	}

	f.register(cmd)
	cmd.Flags().StringVar(&walletID, "wallet", "", "issuer custodial wallet id (required)")
	cmd.Flags().StringVar(&amount, "amount", "", "USDC amount, decimal string (required)")
	_ = cmd.MarkFlagRequired("wallet")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newClaim() *cobra.Command {
	var (
		f        flags
		walletID string
	)

	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim the wallet's outstanding dividend",
		Run: func(cmd *cobra.Command, _ []string) {
			a, svc := boot(f.configPath)
			defer a.Close()

			opID, err := svc.ClaimDividend(cmd.Context(), f.chain, walletID, big.NewInt(f.productID))
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to claim dividend")
			}
			fmt.Println(opID)
		},
	}

	f.register(cmd)
	cmd.Flags().StringVar(&walletID, "wallet", "", "custodial wallet id (required)")
	_ = cmd.MarkFlagRequired("wallet")
	return cmd
}
