package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout   = 30 * time.Second
	maxRetries       = 3
	baseBackoff      = time.Second
	maxBackoff       = 16 * time.Second
	defaultFeeLevel  = "MEDIUM"
	walletsPath      = "/v1/wallets"
	executionsPath   = "/v1/transactions/contractExecution"
	transactionsPath = "/v1/transactions"
	signTypedPath    = "/v1/sign/typedData"
)

// Config holds the custodial signing service connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type service struct {
	cfg        Config
	httpClient *http.Client
}

// NewService creates an HTTP-backed custodial signing client.
//
//nolint:ireturn // Returning interface is intentional for DI
func NewService(cfg Config) Service {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &service{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// CreateContractExecution submits a contract call for signing and
// broadcast, returning a pending operation id.
func (s *service) CreateContractExecution(ctx context.Context, req *ContractExecutionRequest) (string, error) {
	if req.WalletID == "" {
		return "", errors.New("wallet id is required")
	}

	feeLevel := req.FeeLevel
	if feeLevel == "" {
		feeLevel = defaultFeeLevel
	}

	body := map[string]interface{}{
		"idempotencyKey":       uuid.NewString(),
		"walletId":             req.WalletID,
		"contractAddress":      req.ContractAddress,
		"abiFunctionSignature": req.FunctionSignature,
		"abiParameters":        req.Params,
		"feeLevel":             feeLevel,
	}

	var resp struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := s.doRequestWithRetry(ctx, http.MethodPost, executionsPath, body, &resp); err != nil {
		return "", errors.Wrap(err, "failed to create contract execution")
	}

	if resp.ID == "" {
		return "", errors.New("signing service returned no operation id")
	}

	log.Debug().
		Str("wallet_id", req.WalletID).
		Str("operation_id", resp.ID).
		Str("function", req.FunctionSignature).
		Msg("SignerService: contract execution submitted")

	return resp.ID, nil
}

// SignTypedData signs an EIP-712 document under the wallet's key.
func (s *service) SignTypedData(ctx context.Context, walletID string, doc apitypes.TypedData) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal typed data")
	}

	body := map[string]interface{}{
		"walletId": walletID,
		"data":     string(raw),
	}

	var resp struct {
		Signature string `json:"signature"`
	}
	if err := s.doRequestWithRetry(ctx, http.MethodPost, signTypedPath, body, &resp); err != nil {
		return "", errors.Wrap(err, "failed to sign typed data")
	}

	return resp.Signature, nil
}

// GetOperation returns the current state of a pending operation.
func (s *service) GetOperation(ctx context.Context, operationID string) (*Operation, error) {
	var resp struct {
		Transaction Operation `json:"transaction"`
	}

	path := fmt.Sprintf("%s/%s", transactionsPath, operationID)
	if err := s.doRequestWithRetry(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to get operation %s", operationID)
	}

	op := resp.Transaction
	if op.ID == "" {
		op.ID = operationID
	}

	return &op, nil
}

// GetWallet resolves a wallet id to its handle.
func (s *service) GetWallet(ctx context.Context, walletID string) (*Wallet, error) {
	var resp struct {
		Wallet Wallet `json:"wallet"`
	}

	path := fmt.Sprintf("%s/%s", walletsPath, walletID)
	if err := s.doRequestWithRetry(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to get wallet %s", walletID)
	}

	return &resp.Wallet, nil
}

// ProvisionWallets creates custodial wallets on the given chains.
func (s *service) ProvisionWallets(ctx context.Context, chainTags []string) ([]*Wallet, error) {
	if len(chainTags) == 0 {
		return nil, errors.New("at least one chain tag is required")
	}

	body := map[string]interface{}{
		"idempotencyKey": uuid.NewString(),
		"blockchains":    chainTags,
		"accountType":    "EOA",
	}

	var resp struct {
		Wallets []*Wallet `json:"wallets"`
	}
	if err := s.doRequestWithRetry(ctx, http.MethodPost, walletsPath, body, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to provision wallets")
	}

	if len(resp.Wallets) == 0 {
		return nil, errors.New("wallet provisioning returned no wallets")
	}

	return resp.Wallets, nil
}

func (s *service) doRequestWithRetry(ctx context.Context, method, path string, requestBody, responseBody interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff << (attempt - 1)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := s.doRequest(ctx, method, path, requestBody, responseBody)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Str("method", method).
			Str("path", path).
			Msg("SignerService: request failed, will retry")
	}

	return errors.Wrapf(lastErr, "request failed after %d attempts", maxRetries+1)
}

type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("signing service returned HTTP %d: %s", e.StatusCode, e.Body)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= http.StatusInternalServerError
	}

	// Network-level failure
	return true
}

func (s *service) doRequest(ctx context.Context, method, path string, requestBody, responseBody interface{}) error {
	var reqBody io.Reader
	if requestBody != nil {
		raw, err := json.Marshal(requestBody)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request body")
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, reqBody)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &statusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if responseBody != nil && len(body) > 0 {
		if err := json.Unmarshal(body, responseBody); err != nil {
			return errors.Wrap(err, "failed to unmarshal response")
		}
	}

	return nil
}
