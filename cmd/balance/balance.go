package balance

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github/tokenvest/go-gateway/internal/app"
	"github/tokenvest/go-gateway/internal/gateway/units"
)

// New queries the unified deposited balance for a depositor across all
// configured chains, or the raw on-chain USDC wallet balances with
// --onchain.
func New() *cobra.Command {
	var (
		configPath string
		depositor  string
		onchain    bool
	)

	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the unified gateway balance for a depositor",
		Run: func(cmd *cobra.Command, _ []string) {
			if !common.IsHexAddress(depositor) {
				log.Fatal().Str("depositor", depositor).Msg("Invalid depositor address")
			}

			a, err := app.Boot(configPath)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to boot")
			}
			defer a.Close()

			if onchain {
				runOnchain(cmd, a, common.HexToAddress(depositor))
				return
			}

			unified, err := a.Balances.UnifiedBalance(cmd.Context(),
				common.HexToAddress(depositor), a.Config.Descriptors())
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to query unified balance")
			}

			type row struct {
				Chain  string `json:"chain"`
				Amount string `json:"amount"`
			}
			out := struct {
				Total    string `json:"total"`
				PerChain []row  `json:"perChain"`
			}{Total: units.FromMicros(unified.TotalMicros)}

			for _, b := range unified.PerChain {
				out.PerChain = append(out.PerChain, row{
					Chain:  b.ChainTag,
					Amount: units.FromMicros(b.Micros),
				})
			}

			printJSON(out)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the config file")
	cmd.Flags().StringVar(&depositor, "depositor", "", "depositor address (required)")
	cmd.Flags().BoolVar(&onchain, "onchain", false, "read wallet USDC balances from chain RPC instead of the attestation service")
	_ = cmd.MarkFlagRequired("depositor")
	return cmd
}

// runOnchain reads the holder's USDC balance directly from each chain's
// token contract, alongside the chain head for staleness checks.
func runOnchain(cmd *cobra.Command, a *app.App, holder common.Address) {
	pool, err := a.ChainPool()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect chain RPC")
	}

	type row struct {
		Chain  string `json:"chain"`
		Height uint64 `json:"height"`
		Amount string `json:"amount"`
	}
	out := make([]row, 0, len(a.Config.Chains))

	for _, chain := range a.Config.Descriptors() {
		height, err := pool.Client(chain.ChainTag).BlockNumber(cmd.Context())
		if err != nil {
			log.Fatal().Err(err).Str("chain_tag", chain.ChainTag).Msg("Failed to read block height")
		}

		micros, err := pool.TokenBalance(cmd.Context(), chain.ChainTag, chain.USDCContract, holder)
		if err != nil {
			log.Fatal().Err(err).Str("chain_tag", chain.ChainTag).Msg("Failed to read token balance")
		}

		out = append(out, row{
			Chain:  chain.ChainTag,
			Height: height,
			Amount: units.FromMicros(micros),
		})
	}

	printJSON(out)
}

func printJSON(v interface{}) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to marshal balances")
	}
	fmt.Println(string(raw))
}
