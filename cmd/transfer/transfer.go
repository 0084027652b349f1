package transfer

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github/tokenvest/go-gateway/internal/app"
	transfersvc "github/tokenvest/go-gateway/internal/gateway/transfer"
	"github/tokenvest/go-gateway/internal/gateway/units"
	"github/tokenvest/go-gateway/internal/registry"
)

// New moves USDC to a destination chain. The default mode aggregates
// from the user's source-chain balances; --from selects one source chain
// explicitly, optionally depositing wallet funds into custody first.
func New() *cobra.Command {
	var (
		configPath   string
		userID       string
		role         string
		destination  string
		amount       string
		from         string
		depositFirst bool
		sources      []string
		preferred    string
	)

	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Move USDC from source chains onto one destination chain",
		Run: func(cmd *cobra.Command, _ []string) {
			a, err := app.Boot(configPath)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to boot")
			}
			defer a.Close()

			amountMicros, err := units.ToMicros(amount)
			if err != nil {
				log.Fatal().Err(err).Str("amount", amount).Msg("Invalid amount")
			}

			if from != "" {
				runDirect(cmd, a, userID, role, from, destination, amountMicros, depositFirst)
				return
			}
			if depositFirst {
				log.Fatal().Msg("--deposit-first requires --from")
			}

			result, err := a.Transfers.TransferAggregate(cmd.Context(), &transfersvc.AggregateRequest{
				UserID:           userID,
				Role:             role,
				DestinationChain: destination,
				AmountMicros:     amountMicros,
				SourceChains:     sources,
				PreferredSource:  preferred,
			})

			var insufficient *transfersvc.InsufficientFundsError
			switch {
			case err == nil:
			case errors.As(err, &insufficient):
				log.Warn().
					Str("remaining", units.FromMicros(result.RemainingMicros)).
					Msg("Aggregation incomplete, partial transfers are committed")
			default:
				log.Fatal().Err(err).Msg("Transfer failed")
			}

			printRecords(result.Records)

			if err != nil {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the config file")
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&role, "role", registry.RoleInvestor, "user role")
	cmd.Flags().StringVar(&destination, "to", "", "destination chain tag (required)")
	cmd.Flags().StringVar(&amount, "amount", "", "USDC amount, decimal string (required)")
	cmd.Flags().StringVar(&from, "from", "", "single source chain tag (disables aggregation)")
	cmd.Flags().BoolVar(&depositFirst, "deposit-first", false, "deposit wallet USDC into custody before transferring (needs --from)")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "candidate source chains in order (default: all)")
	cmd.Flags().StringVar(&preferred, "preferred", "", "source chain to drain first")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// runDirect runs the single-chain-pair protocol with the user's
// registered wallets on the two chains.
func runDirect(cmd *cobra.Command, a *app.App, userID, role, from, to string, amountMicros *big.Int, depositFirst bool) {
	wallet, err := a.Registry.Wallet(cmd.Context(), userID, role)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load wallet")
	}
	if wallet == nil {
		log.Fatal().Str("user_id", userID).Str("role", role).Msg("No wallet registered")
	}

	src, ok := wallet.ChainWallets[from]
	if !ok {
		log.Fatal().Str("chain_tag", from).Msg("No wallet on source chain")
	}
	dst, ok := wallet.ChainWallets[to]
	if !ok {
		log.Fatal().Str("chain_tag", to).Msg("No wallet on destination chain")
	}

	rec, err := a.Transfers.Transfer(cmd.Context(), &transfersvc.Request{
		SourceChain:         from,
		DestinationChain:    to,
		SourceWalletID:      src.WalletID,
		DestinationWalletID: dst.WalletID,
		AmountMicros:        amountMicros,
		DepositFirst:        depositFirst,
	})
	if err != nil {
		log.Error().Err(err).Msg("Transfer failed")
	}

	printRecords([]*transfersvc.Record{rec})

	if err != nil {
		os.Exit(1)
	}
}

func printRecords(records []*transfersvc.Record) {
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to marshal records")
	}
	fmt.Println(string(raw))
}
