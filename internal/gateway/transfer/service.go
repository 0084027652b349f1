package transfer

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github/tokenvest/go-gateway/internal/gateway"
	"github/tokenvest/go-gateway/internal/gateway/attest"
	"github/tokenvest/go-gateway/internal/gateway/balance"
	"github/tokenvest/go-gateway/internal/gateway/signer"
	"github/tokenvest/go-gateway/internal/gateway/units"
	"github/tokenvest/go-gateway/internal/metrics"
	"github/tokenvest/go-gateway/internal/registry"
)

const (
	defaultPollInterval      = 3 * time.Second
	defaultExecutionAttempts = 60
	defaultBufferMicros      = 1_000 // 0.001 USDC kept back per source chain
	defaultToleranceMicros   = 1    // 1e-6 USDC

	gatewayMintSignature = "gatewayMint(bytes,bytes)"
	approveSignature     = "approve(address,uint256)"
	depositSignature     = "deposit(address,uint256)"
)

// fallbackMaxFeeMicros applies when neither the request nor the chain
// table carries a fee.
var fallbackMaxFeeMicros = big.NewInt(10_000)

// Attester is the slice of the attestation client the orchestrator needs.
type Attester interface {
	SubmitBurnIntent(ctx context.Context, intent *gateway.BurnIntent, signature string) (*gateway.Attestation, error)
}

// WalletDirectory resolves a user-role to its custodial wallets.
type WalletDirectory interface {
	Wallet(ctx context.Context, userID, role string) (*registry.UserWallet, error)
}

// AllowanceReader reads the on-chain USDC allowance granted to the
// gateway custody contract. Optional; without it every deposit is
// preceded by an approve.
type AllowanceReader interface {
	TokenAllowance(ctx context.Context, chainTag string, token, owner, spender common.Address) (*big.Int, error)
}

// Journal receives every record state transition so in-flight bookkeeping
// survives for audit. Optional.
type Journal interface {
	Record(rec *Record)
}

// Service drives single-chain transfers and multi-chain aggregation.
type Service interface {
	// Transfer runs the full protocol for one chain pair: (optional
	// deposit,) build, sign, attest, mint. The returned record is always
	// populated, also on failure.
	Transfer(ctx context.Context, req *Request) (*Record, error)

	// TransferAggregate greedily pulls the requested total from the
	// candidate source chains. Partial completion is committed, never
	// rolled back.
	TransferAggregate(ctx context.Context, req *AggregateRequest) (*AggregateResult, error)
}

// Options wires the orchestrator.
type Options struct {
	Chains        []gateway.ChainDescriptor
	GatewayWallet common.Address // custody contract holding deposits
	GatewayMinter common.Address // destination mint contract

	Signer   signer.Service
	Attester Attester
	Balances balance.Service
	Wallets  WalletDirectory
	Reader   AllowanceReader // optional
	Journal  Journal         // optional

	ExecutionPoll   PollPolicy
	MintPoll        PollPolicy
	BufferMicros    *big.Int
	ToleranceMicros *big.Int
}

type service struct {
	chains        map[string]gateway.ChainDescriptor
	chainOrder    []string
	gatewayWallet common.Address
	gatewayMinter common.Address

	signer   signer.Service
	attester Attester
	balances balance.Service
	wallets  WalletDirectory
	reader   AllowanceReader
	journal  Journal

	executionPoll   PollPolicy
	mintPoll        PollPolicy
	bufferMicros    *big.Int
	toleranceMicros *big.Int
}

// NewService creates the transfer orchestrator.
//
//nolint:ireturn // Returning interface is intentional for DI
func NewService(opts Options) (Service, error) {
	if opts.Signer == nil || opts.Attester == nil {
		return nil, errors.New("signer and attester are required")
	}
	if len(opts.Chains) == 0 {
		return nil, errors.New("at least one chain is required")
	}

	chains := make(map[string]gateway.ChainDescriptor, len(opts.Chains))
	order := make([]string, 0, len(opts.Chains))
	for _, chain := range opts.Chains {
		chains[chain.ChainTag] = chain
		order = append(order, chain.ChainTag)
	}

	if opts.ExecutionPoll.Interval == 0 {
		opts.ExecutionPoll.Interval = defaultPollInterval
	}
	if opts.ExecutionPoll.MaxAttempts == 0 {
		opts.ExecutionPoll.MaxAttempts = defaultExecutionAttempts
	}
	if opts.MintPoll.Interval == 0 {
		opts.MintPoll.Interval = defaultPollInterval
	}
	// MintPoll.MaxAttempts stays 0 (unbounded) unless configured.

	if opts.BufferMicros == nil {
		opts.BufferMicros = big.NewInt(defaultBufferMicros)
	}
	if opts.ToleranceMicros == nil {
		opts.ToleranceMicros = big.NewInt(defaultToleranceMicros)
	}

	return &service{
		chains:          chains,
		chainOrder:      order,
		gatewayWallet:   opts.GatewayWallet,
		gatewayMinter:   opts.GatewayMinter,
		signer:          opts.Signer,
		attester:        opts.Attester,
		balances:        opts.Balances,
		wallets:         opts.Wallets,
		reader:          opts.Reader,
		journal:         opts.Journal,
		executionPoll:   opts.ExecutionPoll,
		mintPoll:        opts.MintPoll,
		bufferMicros:    opts.BufferMicros,
		toleranceMicros: opts.ToleranceMicros,
	}, nil
}

// Transfer runs the single-chain-pair protocol. The state machine is
// Building -> Signing -> Attesting -> Minting -> Confirmed, with any hard
// failure terminal for this chain only.
func (s *service) Transfer(ctx context.Context, req *Request) (*Record, error) {
	rec := &Record{
		SourceChain:     req.SourceChain,
		RequestedMicros: req.AmountMicros,
		Status:          StatusPending,
	}
	// The pending record reaches the journal before any external call,
	// so a crash mid-deposit still leaves an audit trail.
	s.log(rec)

	if err := s.validate(req); err != nil {
		return s.fail(rec, err)
	}

	src := s.chains[req.SourceChain]
	dst := s.chains[req.DestinationChain]

	// Building: resolve wallets, fresh salt, fee from caller or table.
	srcWallet, err := s.signer.GetWallet(ctx, req.SourceWalletID)
	if err != nil {
		return s.fail(rec, errors.Wrap(err, "failed to resolve source wallet"))
	}
	dstWallet, err := s.signer.GetWallet(ctx, req.DestinationWalletID)
	if err != nil {
		return s.fail(rec, errors.Wrap(err, "failed to resolve destination wallet"))
	}

	depositor := common.HexToAddress(srcWallet.Address)
	recipient := req.Recipient
	if recipient == (common.Address{}) {
		recipient = common.HexToAddress(dstWallet.Address)
	}

	if req.DepositFirst {
		if err := s.ensureDeposited(ctx, src, req.SourceWalletID, depositor, req.AmountMicros); err != nil {
			return s.fail(rec, errors.Wrap(err, "failed to deposit into gateway"))
		}
	}

	salt, err := newSalt()
	if err != nil {
		return s.fail(rec, errors.Wrap(err, "failed to generate salt"))
	}
	rec.Salt = salt
	rec.SaltHex = hexutil.Encode(salt[:])

	fee := req.MaxFeeMicros
	if fee == nil {
		fee = src.DefaultMaxFeeMicros
	}
	if fee == nil {
		fee = fallbackMaxFeeMicros
	}

	intent := s.buildIntent(src, dst, depositor, recipient, req.AmountMicros, fee, salt)
	s.log(rec)

	// Signing.
	signature, err := s.signIntent(ctx, req.SourceWalletID, intent)
	if err != nil {
		return s.fail(rec, err)
	}

	// Attesting, with at most one fee renegotiation.
	attestation, attested, err := s.attestIntent(ctx, req, intent, signature, depositor, recipient, src, dst)
	if err != nil {
		return s.fail(rec, err)
	}
	rec.Attestation = attestation
	rec.TransferID = attestation.TransferID
	rec.AttestedMicros = attested

	// Minting: consume the attestation exactly once on the destination.
	opID, err := s.signer.CreateContractExecution(ctx, &signer.ContractExecutionRequest{
		WalletID:          req.DestinationWalletID,
		ContractAddress:   s.gatewayMinter.Hex(),
		FunctionSignature: gatewayMintSignature,
		Params: []interface{}{
			attestation.Attestation.String(),
			attestation.OperatorSignature.String(),
		},
	})
	if err != nil {
		return s.fail(rec, errors.Wrap(err, "failed to submit mint"))
	}
	rec.MintOperationID = opID
	s.log(rec)

	op, err := s.waitForOperation(ctx, opID, s.mintPoll)
	if err != nil {
		return s.fail(rec, &MintError{
			Chain:       req.SourceChain,
			OperationID: opID,
			State:       "UNKNOWN",
			Reason:      err.Error(),
		})
	}
	if !op.Succeeded() {
		return s.fail(rec, &MintError{
			Chain:       req.SourceChain,
			OperationID: opID,
			State:       op.State,
			Reason:      op.FailureReason,
		})
	}

	rec.Status = StatusSuccess
	s.log(rec)
	metrics.TransfersTotal.WithLabelValues(req.SourceChain, string(StatusSuccess)).Inc()
	metrics.MintedMicros.WithLabelValues(req.SourceChain).Add(microsAsFloat(attested))

	log.Info().
		Str("source_chain", req.SourceChain).
		Str("destination_chain", req.DestinationChain).
		Str("transfer_id", rec.TransferID).
		Str("operation_id", opID).
		Str("amount_micros", attested.String()).
		Msg("TransferService: transfer confirmed")

	return rec, nil
}

func (s *service) validate(req *Request) error {
	if req.AmountMicros == nil || req.AmountMicros.Sign() <= 0 {
		return &ValidationError{Reason: "amount must be positive"}
	}
	if _, ok := s.chains[req.SourceChain]; !ok {
		return &ValidationError{Reason: "unsupported source chain " + req.SourceChain}
	}
	if _, ok := s.chains[req.DestinationChain]; !ok {
		return &ValidationError{Reason: "unsupported destination chain " + req.DestinationChain}
	}
	if req.SourceChain == req.DestinationChain {
		return &ValidationError{Reason: "source and destination chain must differ"}
	}
	if req.SourceWalletID == "" || req.DestinationWalletID == "" {
		return &ValidationError{Reason: "source and destination wallet ids are required"}
	}
	return nil
}

func (s *service) buildIntent(
	src, dst gateway.ChainDescriptor,
	depositor, recipient common.Address,
	amount, fee *big.Int,
	salt [32]byte,
) *gateway.BurnIntent {
	return &gateway.BurnIntent{
		// No practical height expiry at this layer; the contract's own
		// height checks are the real bound.
		MaxBlockHeight: new(big.Int).Set(ethmath.MaxBig256),
		MaxFeeMicros:   new(big.Int).Set(fee),
		Spec: gateway.TransferSpec{
			Version:              gateway.SpecVersion,
			SourceDomain:         src.DomainID,
			DestinationDomain:    dst.DomainID,
			SourceContract:       s.gatewayWallet,
			DestinationContract:  s.gatewayMinter,
			SourceToken:          src.USDCContract,
			DestinationToken:     dst.USDCContract,
			SourceDepositor:      depositor,
			DestinationRecipient: recipient,
			SourceSigner:         depositor,
			ValueMicros:          new(big.Int).Set(amount),
			Salt:                 salt,
		},
	}
}

func (s *service) signIntent(ctx context.Context, walletID string, intent *gateway.BurnIntent) (string, error) {
	doc, err := units.BuildBurnIntentTypedData(intent)
	if err != nil {
		return "", errors.Wrap(err, "failed to build typed data")
	}

	signature, err := s.signer.SignTypedData(ctx, walletID, doc)
	if err != nil {
		return "", &SigningError{Chain: intentChainTag(s, intent), Cause: err}
	}
	if signature == "" {
		return "", &SigningError{Chain: intentChainTag(s, intent)}
	}

	return signature, nil
}

// attestIntent submits the signed intent. On a rejection carrying a
// parseable higher-fee hint it rebuilds the intent once with the higher
// fee, shrinking the amount if needed so amount+fee stays within the
// available balance, and resubmits. A second rejection is terminal.
func (s *service) attestIntent(
	ctx context.Context,
	req *Request,
	intent *gateway.BurnIntent,
	signature string,
	depositor, recipient common.Address,
	src, dst gateway.ChainDescriptor,
) (*gateway.Attestation, *big.Int, error) {
	attestation, err := s.attester.SubmitBurnIntent(ctx, intent, signature)
	if err == nil {
		return attestation, intent.Spec.ValueMicros, nil
	}

	var rejected *attest.RejectedError
	if !errors.As(err, &rejected) {
		return nil, nil, errors.Wrap(err, "attestation submission failed")
	}

	hint, ok := attest.MinFeeHint(rejected.Body)
	if !ok || hint.Cmp(intent.MaxFeeMicros) <= 0 {
		return nil, nil, err
	}

	amount := new(big.Int).Set(intent.Spec.ValueMicros)
	if req.AvailableMicros != nil {
		budget := new(big.Int).Sub(req.AvailableMicros, hint)
		if budget.Sign() <= 0 {
			return nil, nil, err
		}
		if amount.Cmp(budget) > 0 {
			amount = budget
		}
	}

	salt, saltErr := newSalt()
	if saltErr != nil {
		return nil, nil, errors.Wrap(saltErr, "failed to generate retry salt")
	}

	retryIntent := s.buildIntent(src, dst, depositor, recipient, amount, hint, salt)

	retrySig, sigErr := s.signIntent(ctx, req.SourceWalletID, retryIntent)
	if sigErr != nil {
		return nil, nil, sigErr
	}

	metrics.AttestationFeeRetries.Inc()
	log.Info().
		Str("source_chain", req.SourceChain).
		Str("old_fee_micros", intent.MaxFeeMicros.String()).
		Str("new_fee_micros", hint.String()).
		Str("amount_micros", amount.String()).
		Msg("TransferService: retrying attestation with adjusted fee")

	attestation, retryErr := s.attester.SubmitBurnIntent(ctx, retryIntent, retrySig)
	if retryErr != nil {
		return nil, nil, errors.Wrap(retryErr, "attestation rejected after fee adjustment")
	}

	return attestation, amount, nil
}

// ensureDeposited moves wallet USDC into the gateway custody contract,
// approving first when the standing allowance does not cover the amount.
func (s *service) ensureDeposited(
	ctx context.Context,
	src gateway.ChainDescriptor,
	walletID string,
	owner common.Address,
	amount *big.Int,
) error {
	needApprove := true
	if s.reader != nil {
		allowance, err := s.reader.TokenAllowance(ctx, src.ChainTag, src.USDCContract, owner, s.gatewayWallet)
		if err != nil {
			log.Warn().
				Err(err).
				Str("chain_tag", src.ChainTag).
				Msg("TransferService: allowance read failed, approving unconditionally")
		} else if allowance.Cmp(amount) >= 0 {
			needApprove = false
		}
	}

	if needApprove {
		if err := s.executeAndWait(ctx, &signer.ContractExecutionRequest{
			WalletID:          walletID,
			ContractAddress:   src.USDCContract.Hex(),
			FunctionSignature: approveSignature,
			Params:            []interface{}{s.gatewayWallet.Hex(), amount.String()},
		}); err != nil {
			return errors.Wrap(err, "approve failed")
		}
	}

	if err := s.executeAndWait(ctx, &signer.ContractExecutionRequest{
		WalletID:          walletID,
		ContractAddress:   s.gatewayWallet.Hex(),
		FunctionSignature: depositSignature,
		Params:            []interface{}{src.USDCContract.Hex(), amount.String()},
	}); err != nil {
		return errors.Wrap(err, "deposit failed")
	}

	return nil
}

func (s *service) executeAndWait(ctx context.Context, req *signer.ContractExecutionRequest) error {
	opID, err := s.signer.CreateContractExecution(ctx, req)
	if err != nil {
		return err
	}

	op, err := s.waitForOperation(ctx, opID, s.executionPoll)
	if err != nil {
		return err
	}
	if !op.Succeeded() {
		return errors.Errorf("operation %s ended in state %s: %s", opID, op.State, op.FailureReason)
	}

	return nil
}

// waitForOperation polls to a terminal state. The state is always checked
// before sleeping so an already-terminal operation is never resubmitted
// or waited on needlessly.
func (s *service) waitForOperation(ctx context.Context, operationID string, policy PollPolicy) (*signer.Operation, error) {
	attempts := 0
	for {
		op, err := s.signer.GetOperation(ctx, operationID)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to poll operation %s", operationID)
		}
		if op.Terminal() {
			return op, nil
		}

		attempts++
		if policy.MaxAttempts > 0 && attempts >= policy.MaxAttempts {
			return nil, errors.Errorf("operation %s not terminal after %d attempts", operationID, attempts)
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "context canceled while polling operation")
		case <-time.After(policy.Interval):
		}
	}
}

func (s *service) fail(rec *Record, err error) (*Record, error) {
	rec.Status = StatusFailed
	rec.Err = err
	rec.Error = err.Error()
	s.log(rec)
	metrics.TransfersTotal.WithLabelValues(rec.SourceChain, string(StatusFailed)).Inc()
	return rec, err
}

func (s *service) log(rec *Record) {
	if s.journal != nil {
		s.journal.Record(rec)
	}
}

func (s *service) intentChainTagByDomain(domain uint32) string {
	for tag, chain := range s.chains {
		if chain.DomainID == domain {
			return tag
		}
	}
	return ""
}

func intentChainTag(s *service, intent *gateway.BurnIntent) string {
	return s.intentChainTagByDomain(intent.Spec.SourceDomain)
}

func newSalt() ([32]byte, error) {
	var salt [32]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return salt, err
	}
	return salt, nil
}

func microsAsFloat(micros *big.Int) float64 {
	f, _ := new(big.Float).SetInt(micros).Float64()
	return f
}
