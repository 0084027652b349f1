package transfer_test

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/tokenvest/go-gateway/internal/gateway"
	"github/tokenvest/go-gateway/internal/gateway/attest"
	"github/tokenvest/go-gateway/internal/gateway/signer"
	"github/tokenvest/go-gateway/internal/gateway/transfer"
)

var (
	gatewayWallet = common.HexToAddress("0x0000000000000000000000000000000000000077")
	gatewayMinter = common.HexToAddress("0x0000000000000000000000000000000000000088")

	testChains = []gateway.ChainDescriptor{
		{
			ChainTag:     "ethereum",
			DomainID:     0,
			USDCContract: common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		},
		{
			ChainTag:     "base",
			DomainID:     6,
			USDCContract: common.HexToAddress("0x00000000000000000000000000000000000000a2"),
		},
		{
			ChainTag:     "avalanche",
			DomainID:     1,
			USDCContract: common.HexToAddress("0x00000000000000000000000000000000000000a3"),
		},
	}
)

// fakeSigner scripts the custodial signing service. Operation outcomes
// are consumed in creation order; the default outcome is COMPLETE.
type fakeSigner struct {
	wallets  map[string]string // wallet id -> address
	signErr  error
	noSig    bool
	outcomes []string
	pending  int // extra non-terminal polls before the outcome

	created []*signer.ContractExecutionRequest
	signed  []apitypes.TypedData
	opState map[string]string
	opPolls map[string]int
}

func newFakeSigner() *fakeSigner {
	return &fakeSigner{
		wallets: map[string]string{
			"wallet-src":  "0x0000000000000000000000000000000000000011",
			"wallet-dst":  "0x0000000000000000000000000000000000000022",
			"wallet-src2": "0x0000000000000000000000000000000000000033",
		},
		opState: make(map[string]string),
		opPolls: make(map[string]int),
	}
}

func (f *fakeSigner) CreateContractExecution(_ context.Context, req *signer.ContractExecutionRequest) (string, error) {
	f.created = append(f.created, req)
	opID := fmt.Sprintf("op-%d", len(f.created))

	state := signer.OpStateComplete
	if len(f.outcomes) > 0 {
		state = f.outcomes[0]
		f.outcomes = f.outcomes[1:]
	}
	f.opState[opID] = state
	f.opPolls[opID] = f.pending
	return opID, nil
}

func (f *fakeSigner) SignTypedData(_ context.Context, _ string, doc apitypes.TypedData) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	if f.noSig {
		return "", nil
	}
	f.signed = append(f.signed, doc)
	return fmt.Sprintf("0xsig%d", len(f.signed)), nil
}

func (f *fakeSigner) GetOperation(_ context.Context, operationID string) (*signer.Operation, error) {
	if f.opPolls[operationID] > 0 {
		f.opPolls[operationID]--
		return &signer.Operation{ID: operationID, State: signer.OpStateSent}, nil
	}

	state := f.opState[operationID]
	op := &signer.Operation{ID: operationID, State: state}
	if !op.Succeeded() {
		op.FailureReason = "execution reverted"
	}
	return op, nil
}

func (f *fakeSigner) GetWallet(_ context.Context, walletID string) (*signer.Wallet, error) {
	address, ok := f.wallets[walletID]
	if !ok {
		return nil, errors.Errorf("unknown wallet %s", walletID)
	}
	return &signer.Wallet{ID: walletID, Address: address}, nil
}

func (f *fakeSigner) ProvisionWallets(_ context.Context, _ []string) ([]*signer.Wallet, error) {
	return nil, errors.New("not supported in this fake")
}

type attestResult struct {
	attestation *gateway.Attestation
	err         error
}

// fakeAttester consumes scripted results in submission order and records
// every submitted intent.
type fakeAttester struct {
	results []attestResult
	intents []*gateway.BurnIntent
	sigs    []string
}

func (f *fakeAttester) SubmitBurnIntent(_ context.Context, intent *gateway.BurnIntent, signature string) (*gateway.Attestation, error) {
	clone := *intent
	f.intents = append(f.intents, &clone)
	f.sigs = append(f.sigs, signature)

	if len(f.results) == 0 {
		return &gateway.Attestation{
			TransferID:        fmt.Sprintf("transfer-%d", len(f.intents)),
			Attestation:       hexutil.Bytes{0x01, 0x02},
			OperatorSignature: hexutil.Bytes{0x03, 0x04},
		}, nil
	}

	r := f.results[0]
	f.results = f.results[1:]
	return r.attestation, r.err
}

func granted(id string) attestResult {
	return attestResult{attestation: &gateway.Attestation{
		TransferID:        id,
		Attestation:       hexutil.Bytes{0x01},
		OperatorSignature: hexutil.Bytes{0x02},
	}}
}

func rejected(body string) attestResult {
	return attestResult{err: &attest.RejectedError{StatusCode: 400, Body: body}}
}

func newTestService(t *testing.T, sg *fakeSigner, at *fakeAttester, opts ...func(*transfer.Options)) transfer.Service {
	t.Helper()

	o := transfer.Options{
		Chains:        testChains,
		GatewayWallet: gatewayWallet,
		GatewayMinter: gatewayMinter,
		Signer:        sg,
		Attester:      at,
		ExecutionPoll: transfer.PollPolicy{Interval: time.Millisecond, MaxAttempts: 10},
		MintPoll:      transfer.PollPolicy{Interval: time.Millisecond, MaxAttempts: 10},
	}
	for _, apply := range opts {
		apply(&o)
	}

	svc, err := transfer.NewService(o)
	require.NoError(t, err)
	return svc
}

func micros(usdc int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(usdc), big.NewInt(1_000_000))
}

func TestTransferHappyPath(t *testing.T) {
	sg := newFakeSigner()
	at := &fakeAttester{results: []attestResult{granted("transfer-1")}}
	svc := newTestService(t, sg, at)

	rec, err := svc.Transfer(context.Background(), &transfer.Request{
		SourceChain:         "ethereum",
		DestinationChain:    "base",
		SourceWalletID:      "wallet-src",
		DestinationWalletID: "wallet-dst",
		AmountMicros:        micros(5),
	})
	require.NoError(t, err)

	assert.Equal(t, transfer.StatusSuccess, rec.Status)
	assert.Equal(t, "transfer-1", rec.TransferID)
	assert.Equal(t, micros(5), rec.AttestedMicros)
	assert.NotEmpty(t, rec.SaltHex)
	assert.Equal(t, "op-1", rec.MintOperationID)

	// The mint consumes the attestation blob and operator signature.
	require.Len(t, sg.created, 1)
	mint := sg.created[0]
	assert.Equal(t, gatewayMinter.Hex(), mint.ContractAddress)
	assert.Equal(t, "gatewayMint(bytes,bytes)", mint.FunctionSignature)
	assert.Equal(t, "wallet-dst", mint.WalletID)
	require.Len(t, mint.Params, 2)
	assert.Equal(t, "0x01", mint.Params[0])

	// The submitted intent carries the source depositor and the
	// destination wallet as recipient.
	require.Len(t, at.intents, 1)
	spec := at.intents[0].Spec
	assert.Equal(t, uint32(0), spec.SourceDomain)
	assert.Equal(t, uint32(6), spec.DestinationDomain)
	assert.Equal(t, common.HexToAddress(sg.wallets["wallet-src"]), spec.SourceDepositor)
	assert.Equal(t, common.HexToAddress(sg.wallets["wallet-dst"]), spec.DestinationRecipient)
	assert.Equal(t, micros(5), spec.ValueMicros)
}

func TestTransferWaitsForPendingMint(t *testing.T) {
	sg := newFakeSigner()
	sg.pending = 3
	at := &fakeAttester{}
	svc := newTestService(t, sg, at)

	rec, err := svc.Transfer(context.Background(), &transfer.Request{
		SourceChain:         "ethereum",
		DestinationChain:    "base",
		SourceWalletID:      "wallet-src",
		DestinationWalletID: "wallet-dst",
		AmountMicros:        micros(1),
	})
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusSuccess, rec.Status)
}

func TestTransferValidation(t *testing.T) {
	svc := newTestService(t, newFakeSigner(), &fakeAttester{})
	ctx := context.Background()

	cases := []struct {
		name string
		req  *transfer.Request
	}{
		{"zero amount", &transfer.Request{
			SourceChain: "ethereum", DestinationChain: "base",
			SourceWalletID: "wallet-src", DestinationWalletID: "wallet-dst",
			AmountMicros: big.NewInt(0),
		}},
		{"unknown source", &transfer.Request{
			SourceChain: "solana", DestinationChain: "base",
			SourceWalletID: "wallet-src", DestinationWalletID: "wallet-dst",
			AmountMicros: micros(1),
		}},
		{"same chain", &transfer.Request{
			SourceChain: "base", DestinationChain: "base",
			SourceWalletID: "wallet-src", DestinationWalletID: "wallet-dst",
			AmountMicros: micros(1),
		}},
		{"missing wallet", &transfer.Request{
			SourceChain: "ethereum", DestinationChain: "base",
			AmountMicros: micros(1),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := svc.Transfer(ctx, tc.req)
			var verr *transfer.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, transfer.StatusFailed, rec.Status)
		})
	}
}

func TestTransferFeeRenegotiation(t *testing.T) {
	sg := newFakeSigner()
	at := &fakeAttester{results: []attestResult{
		rejected(`{"error":"fee too low: expected at least 0.02 USDC"}`),
		granted("transfer-retry"),
	}}
	svc := newTestService(t, sg, at)

	rec, err := svc.Transfer(context.Background(), &transfer.Request{
		SourceChain:         "ethereum",
		DestinationChain:    "base",
		SourceWalletID:      "wallet-src",
		DestinationWalletID: "wallet-dst",
		AmountMicros:        micros(2),
		AvailableMicros:     big.NewInt(2_005_000),
	})
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusSuccess, rec.Status)

	require.Len(t, at.intents, 2)
	first, retry := at.intents[0], at.intents[1]

	// Fee raised to the hint, amount clamped so amount+fee fits the
	// available balance, and the salt is fresh.
	assert.Equal(t, big.NewInt(10_000), first.MaxFeeMicros)
	assert.Equal(t, big.NewInt(20_000), retry.MaxFeeMicros)
	assert.Equal(t, big.NewInt(1_985_000), retry.Spec.ValueMicros)
	assert.NotEqual(t, first.Spec.Salt, retry.Spec.Salt)

	assert.Equal(t, big.NewInt(1_985_000), rec.AttestedMicros)
	assert.Equal(t, "transfer-retry", rec.TransferID)
}

func TestTransferSecondRejectionIsTerminal(t *testing.T) {
	sg := newFakeSigner()
	at := &fakeAttester{results: []attestResult{
		rejected(`{"error":"fee too low: expected at least 0.02 USDC"}`),
		rejected(`{"error":"fee too low: expected at least 0.05 USDC"}`),
	}}
	svc := newTestService(t, sg, at)

	rec, err := svc.Transfer(context.Background(), &transfer.Request{
		SourceChain:         "ethereum",
		DestinationChain:    "base",
		SourceWalletID:      "wallet-src",
		DestinationWalletID: "wallet-dst",
		AmountMicros:        micros(2),
		AvailableMicros:     micros(3),
	})
	require.Error(t, err)
	assert.Equal(t, transfer.StatusFailed, rec.Status)
	assert.Len(t, at.intents, 2, "exactly one retry")
	assert.Empty(t, sg.created, "no mint after terminal rejection")
}

func TestTransferUnparseableRejectionIsTerminal(t *testing.T) {
	sg := newFakeSigner()
	at := &fakeAttester{results: []attestResult{
		rejected(`{"error":"depositor is sanctioned"}`),
	}}
	svc := newTestService(t, sg, at)

	rec, err := svc.Transfer(context.Background(), &transfer.Request{
		SourceChain:         "ethereum",
		DestinationChain:    "base",
		SourceWalletID:      "wallet-src",
		DestinationWalletID: "wallet-dst",
		AmountMicros:        micros(2),
	})
	require.Error(t, err)
	var rej *attest.RejectedError
	assert.ErrorAs(t, err, &rej)
	assert.Equal(t, transfer.StatusFailed, rec.Status)
	assert.Len(t, at.intents, 1, "no retry without a usable fee hint")
}

func TestTransferSigningFailure(t *testing.T) {
	sg := newFakeSigner()
	sg.noSig = true
	svc := newTestService(t, sg, &fakeAttester{})

	rec, err := svc.Transfer(context.Background(), &transfer.Request{
		SourceChain:         "ethereum",
		DestinationChain:    "base",
		SourceWalletID:      "wallet-src",
		DestinationWalletID: "wallet-dst",
		AmountMicros:        micros(1),
	})
	require.Error(t, err)

	var serr *transfer.SigningError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "ethereum", serr.Chain)
	assert.Equal(t, transfer.StatusFailed, rec.Status)
}

func TestTransferMintFailure(t *testing.T) {
	sg := newFakeSigner()
	sg.outcomes = []string{signer.OpStateFailed}
	svc := newTestService(t, sg, &fakeAttester{})

	rec, err := svc.Transfer(context.Background(), &transfer.Request{
		SourceChain:         "ethereum",
		DestinationChain:    "base",
		SourceWalletID:      "wallet-src",
		DestinationWalletID: "wallet-dst",
		AmountMicros:        micros(1),
	})
	require.Error(t, err)

	var merr *transfer.MintError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, signer.OpStateFailed, merr.State)
	assert.Equal(t, "op-1", merr.OperationID)
	assert.Equal(t, transfer.StatusFailed, rec.Status)
	// The attestation was granted before the mint failed; the record
	// keeps it for manual recovery.
	assert.NotNil(t, rec.Attestation)
}

func TestTransferDepositFirstApprovesAndDeposits(t *testing.T) {
	sg := newFakeSigner()
	svc := newTestService(t, sg, &fakeAttester{})

	rec, err := svc.Transfer(context.Background(), &transfer.Request{
		SourceChain:         "ethereum",
		DestinationChain:    "base",
		SourceWalletID:      "wallet-src",
		DestinationWalletID: "wallet-dst",
		AmountMicros:        micros(1),
		DepositFirst:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusSuccess, rec.Status)

	// approve on USDC, deposit on the custody contract, then the mint.
	require.Len(t, sg.created, 3)
	assert.Equal(t, "approve(address,uint256)", sg.created[0].FunctionSignature)
	assert.Equal(t, testChains[0].USDCContract.Hex(), sg.created[0].ContractAddress)
	assert.Equal(t, "deposit(address,uint256)", sg.created[1].FunctionSignature)
	assert.Equal(t, gatewayWallet.Hex(), sg.created[1].ContractAddress)
	assert.Equal(t, "gatewayMint(bytes,bytes)", sg.created[2].FunctionSignature)
}

// captureJournal records every journaled status together with how many
// contract executions had been submitted at that point.
type captureJournal struct {
	sg      *fakeSigner
	entries []journalSnap
}

type journalSnap struct {
	status     transfer.Status
	executions int
}

func (j *captureJournal) Record(rec *transfer.Record) {
	j.entries = append(j.entries, journalSnap{status: rec.Status, executions: len(j.sg.created)})
}

func TestTransferJournalsPendingBeforeExecutions(t *testing.T) {
	sg := newFakeSigner()
	jn := &captureJournal{sg: sg}
	svc := newTestService(t, sg, &fakeAttester{}, func(o *transfer.Options) {
		o.Journal = jn
	})

	_, err := svc.Transfer(context.Background(), &transfer.Request{
		SourceChain:         "ethereum",
		DestinationChain:    "base",
		SourceWalletID:      "wallet-src",
		DestinationWalletID: "wallet-dst",
		AmountMicros:        micros(1),
		DepositFirst:        true,
	})
	require.NoError(t, err)

	// The pending record is journaled before the approve and deposit are
	// submitted, not only once the burn intent exists.
	require.NotEmpty(t, jn.entries)
	assert.Equal(t, transfer.StatusPending, jn.entries[0].status)
	assert.Zero(t, jn.entries[0].executions)
	assert.Equal(t, transfer.StatusSuccess, jn.entries[len(jn.entries)-1].status)
}

type fakeReader struct {
	allowance *big.Int
}

func (f *fakeReader) TokenAllowance(_ context.Context, _ string, _, _, _ common.Address) (*big.Int, error) {
	return f.allowance, nil
}

func TestTransferDepositSkipsApproveWithStandingAllowance(t *testing.T) {
	sg := newFakeSigner()
	svc := newTestService(t, sg, &fakeAttester{}, func(o *transfer.Options) {
		o.Reader = &fakeReader{allowance: micros(100)}
	})

	_, err := svc.Transfer(context.Background(), &transfer.Request{
		SourceChain:         "ethereum",
		DestinationChain:    "base",
		SourceWalletID:      "wallet-src",
		DestinationWalletID: "wallet-dst",
		AmountMicros:        micros(1),
		DepositFirst:        true,
	})
	require.NoError(t, err)

	// deposit then mint, no approve.
	require.Len(t, sg.created, 2)
	assert.Equal(t, "deposit(address,uint256)", sg.created[0].FunctionSignature)
}
