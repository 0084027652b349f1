// Package app wires the configured services together for the CLI
// entrypoints.
package app

import (
	"context"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github/tokenvest/go-gateway/internal/chainrpc"
	"github/tokenvest/go-gateway/internal/config"
	"github/tokenvest/go-gateway/internal/gateway/attest"
	"github/tokenvest/go-gateway/internal/gateway/balance"
	"github/tokenvest/go-gateway/internal/gateway/signer"
	"github/tokenvest/go-gateway/internal/gateway/transfer"
	"github/tokenvest/go-gateway/internal/ledger"
	"github/tokenvest/go-gateway/internal/registry"
)

// App holds the wired service graph.
type App struct {
	Config    *config.Config
	Signer    signer.Service
	Attester  *attest.Client
	Balances  balance.Service
	Registry  registry.Service
	Transfers transfer.Service

	pool   *chainrpc.Pool
	reader *chainReader
}

// Boot loads the configuration, initializes logging, and wires every
// service that does not need a live chain connection. Chain RPC and the
// ledger adapter are dialed lazily via ChainPool and Ledger.
func Boot(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	initLogging(cfg)

	attester := attest.NewClient(attest.Config{
		BaseURL: cfg.Attestation.BaseURL,
		Timeout: cfg.Attestation.Timeout,
	})

	signerSvc := signer.NewService(signer.Config{
		BaseURL: cfg.Signer.BaseURL,
		APIKey:  cfg.Signer.APIKey,
		Timeout: cfg.Signer.Timeout,
	})

	balances := balance.NewService(attester)

	store, err := registry.OpenStore(cfg.RegistryStorePath)
	if err != nil {
		return nil, err
	}
	registrySvc := registry.NewService(store, signerSvc)

	a := &App{
		Config:   cfg,
		Signer:   signerSvc,
		Attester: attester,
		Balances: balances,
		Registry: registrySvc,
	}
	a.reader = &chainReader{app: a}

	transfers, err := transfer.NewService(transfer.Options{
		Chains:        cfg.Descriptors(),
		GatewayWallet: addr(cfg.GatewayWallet),
		GatewayMinter: addr(cfg.GatewayMinter),
		Signer:        signerSvc,
		Attester:      attester,
		Balances:      balances,
		Wallets:       registrySvc,
		Reader:        a.reader,
		Journal:       transfer.NewFileJournal(cfg.JournalPath),
		ExecutionPoll: transfer.PollPolicy{
			Interval:    cfg.Transfer.PollInterval,
			MaxAttempts: cfg.Transfer.ExecutionMaxAttempts,
		},
		MintPoll: transfer.PollPolicy{
			Interval:    cfg.Transfer.PollInterval,
			MaxAttempts: cfg.Transfer.MintMaxAttempts,
		},
		BufferMicros:    bigOrNil(cfg.Transfer.BufferMicros),
		ToleranceMicros: bigOrNil(cfg.Transfer.ToleranceMicros),
	})
	if err != nil {
		return nil, err
	}
	a.Transfers = transfers

	return a, nil
}

// chainReader adapts the RPC pool to the transfer orchestrator's
// allowance reader. The pool is dialed on first read, so transfers that
// never check an allowance stay off-chain.
type chainReader struct {
	app *App
}

func (r *chainReader) TokenAllowance(ctx context.Context, chainTag string, token, owner, spender common.Address) (*big.Int, error) {
	pool, err := r.app.ChainPool()
	if err != nil {
		return nil, err
	}
	return pool.TokenAllowance(ctx, chainTag, token, owner, spender)
}

// ChainPool dials the configured chain RPC endpoints on first use.
func (a *App) ChainPool() (*chainrpc.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}

	pool, err := chainrpc.NewPool(a.Config.Descriptors())
	if err != nil {
		return nil, err
	}
	a.pool = pool
	return pool, nil
}

// Ledger builds the investment ledger adapter over the chain pool and
// the custodial signer.
//
//nolint:ireturn // Returning interface is intentional for DI
func (a *App) Ledger() (ledger.Service, error) {
	contracts := a.Config.LedgerContracts()
	if len(contracts) == 0 {
		return nil, errors.New("no ledger contracts configured")
	}

	pool, err := a.ChainPool()
	if err != nil {
		return nil, err
	}

	callers := make(map[string]ledger.Caller, len(contracts))
	for tag := range contracts {
		client := pool.Client(tag)
		if client == nil {
			return nil, errors.Errorf("no RPC client for chain %s", tag)
		}
		callers[tag] = client
	}

	return ledger.NewService(ledger.Options{
		Contracts: contracts,
		Callers:   callers,
		Executor:  a.Signer,
	})
}

// Close releases chain connections.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func addr(hex string) common.Address {
	return common.HexToAddress(hex)
}

func bigOrNil(v int64) *big.Int {
	if v <= 0 {
		return nil
	}
	return big.NewInt(v)
}

func initLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
