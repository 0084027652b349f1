// Package attest submits signed burn intents to the external attestation
// service and queries deposited gateway balances.
package attest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github/tokenvest/go-gateway/internal/gateway"
	"github/tokenvest/go-gateway/internal/gateway/units"
)

const (
	defaultTimeout = 30 * time.Second

	transferPath = "/v1/transfer"
	balancesPath = "/v1/balances"

	balanceToken = "USDC"

	breakerMaxRequests         = 3
	breakerInterval            = 10 * time.Second
	breakerTimeout             = 30 * time.Second
	breakerConsecutiveFailures = 5
)

// RejectedError carries the raw rejection body from the attestation
// service. The body may embed a minimum-fee hint; see MinFeeHint.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("attestation rejected (HTTP %d): %s", e.StatusCode, e.Body)
}

// Config holds the attestation service connection settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is the HTTP client for the attestation service.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates an attestation service client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "attestation-service",
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > breakerConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("AttestClient: circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			// A rejection is a well-formed answer, not a service outage.
			var rejected *RejectedError
			return err == nil || errors.As(err, &rejected)
		},
	})

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
	}
}

type specMessage struct {
	Version              uint32 `json:"version"`
	SourceDomain         uint32 `json:"sourceDomain"`
	DestinationDomain    uint32 `json:"destinationDomain"`
	SourceContract       string `json:"sourceContract"`
	DestinationContract  string `json:"destinationContract"`
	SourceToken          string `json:"sourceToken"`
	DestinationToken     string `json:"destinationToken"`
	SourceDepositor      string `json:"sourceDepositor"`
	DestinationRecipient string `json:"destinationRecipient"`
	SourceSigner         string `json:"sourceSigner"`
	DestinationCaller    string `json:"destinationCaller"`
	Value                string `json:"value"`
	Salt                 string `json:"salt"`
	HookData             string `json:"hookData"`
}

type burnIntentMessage struct {
	MaxBlockHeight string      `json:"maxBlockHeight"`
	MaxFee         string      `json:"maxFee"`
	Spec           specMessage `json:"spec"`
}

type transferRequestItem struct {
	BurnIntent burnIntentMessage `json:"burnIntent"`
	Signature  string            `json:"signature"`
}

type transferResponseItem struct {
	TransferID      string `json:"transferId"`
	Attestation     string `json:"attestation"`
	Signature       string `json:"signature"`
	Fees            string `json:"fees,omitempty"`
	ExpirationBlock string `json:"expirationBlock,omitempty"`
}

// SubmitBurnIntent POSTs the signed intent as a single-element batch and
// returns the attestation blob plus operator signature. A non-2xx
// response, or a 2xx missing the attestation or signature fields, fails
// with *RejectedError carrying the raw body.
func (c *Client) SubmitBurnIntent(ctx context.Context, intent *gateway.BurnIntent, signature string) (*gateway.Attestation, error) {
	if intent == nil {
		return nil, errors.New("burn intent is nil")
	}
	if signature == "" {
		return nil, errors.New("signature is required")
	}

	payload := []transferRequestItem{{
		BurnIntent: encodeBurnIntent(intent),
		Signature:  signature,
	}}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.submit(ctx, payload)
	})
	if err != nil {
		return nil, err
	}

	attestation, ok := result.(*gateway.Attestation)
	if !ok {
		return nil, errors.New("unexpected breaker result type")
	}

	return attestation, nil
}

func (c *Client) submit(ctx context.Context, payload []transferRequestItem) (*gateway.Attestation, error) {
	status, body, err := c.post(ctx, transferPath, payload)
	if err != nil {
		return nil, errors.Wrap(err, "transfer request failed")
	}

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, &RejectedError{StatusCode: status, Body: string(body)}
	}

	item, err := decodeTransferResponse(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode transfer response")
	}

	if item.Attestation == "" || item.Signature == "" {
		return nil, &RejectedError{StatusCode: status, Body: string(body)}
	}

	blob, err := hexutil.Decode(item.Attestation)
	if err != nil {
		return nil, errors.Wrap(err, "attestation is not valid hex")
	}

	operatorSig, err := hexutil.Decode(item.Signature)
	if err != nil {
		return nil, errors.Wrap(err, "operator signature is not valid hex")
	}

	log.Info().
		Str("transfer_id", item.TransferID).
		Int("attestation_bytes", len(blob)).
		Msg("AttestClient: burn intent attested")

	return &gateway.Attestation{
		TransferID:        item.TransferID,
		Attestation:       blob,
		OperatorSignature: operatorSig,
	}, nil
}

// decodeTransferResponse accepts both response shapes the service emits:
// a single-element array or a bare object.
func decodeTransferResponse(body []byte) (*transferResponseItem, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty response body")
	}

	if trimmed[0] == '[' {
		var items []transferResponseItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, errors.New("empty transfer response array")
		}
		return &items[0], nil
	}

	var item transferResponseItem
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

type balanceSource struct {
	Domain    uint32 `json:"domain"`
	Depositor string `json:"depositor"`
}

type balancesRequest struct {
	Token   string          `json:"token"`
	Sources []balanceSource `json:"sources"`
}

type balancesResponse struct {
	Balances []struct {
		Domain  uint32 `json:"domain"`
		Balance string `json:"balance"`
	} `json:"balances"`
}

// QueryBalances POSTs {domain, depositor} pairs to the balances endpoint
// and returns the per-chain deposited balances it reported. Chains absent
// from the response are simply not present in the result; the balance
// aggregator zero-fills them.
func (c *Client) QueryBalances(ctx context.Context, depositor common.Address, chains []gateway.ChainDescriptor) ([]gateway.ChainBalance, error) {
	if len(chains) == 0 {
		return nil, errors.New("at least one chain is required")
	}

	sources := make([]balanceSource, 0, len(chains))
	for _, chain := range chains {
		sources = append(sources, balanceSource{
			Domain:    chain.DomainID,
			Depositor: depositor.Hex(),
		})
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		status, body, err := c.post(ctx, balancesPath, balancesRequest{Token: balanceToken, Sources: sources})
		if err != nil {
			return nil, errors.Wrap(err, "balances request failed")
		}
		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			return nil, errors.Errorf("balances endpoint returned HTTP %d: %s", status, string(body))
		}

		var resp balancesResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, errors.Wrap(err, "failed to decode balances response")
		}
		return &resp, nil
	})
	if err != nil {
		return nil, err
	}

	resp, ok := result.(*balancesResponse)
	if !ok {
		return nil, errors.New("unexpected breaker result type")
	}

	tagByDomain := make(map[uint32]string, len(chains))
	for _, chain := range chains {
		tagByDomain[chain.DomainID] = chain.ChainTag
	}

	balances := make([]gateway.ChainBalance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		tag, known := tagByDomain[b.Domain]
		if !known {
			log.Warn().
				Uint32("domain_id", b.Domain).
				Msg("AttestClient: balances response contains unknown domain, ignoring")
			continue
		}

		micros, err := units.ToMicros(b.Balance)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid balance for domain %d", b.Domain)
		}

		balances = append(balances, gateway.ChainBalance{
			ChainTag: tag,
			DomainID: b.Domain,
			Micros:   micros,
		})
	}

	return balances, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (int, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, errors.Wrap(err, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to read response body")
	}

	return resp.StatusCode, body, nil
}

func encodeBurnIntent(intent *gateway.BurnIntent) burnIntentMessage {
	spec := intent.Spec

	hookData := spec.HookData
	if hookData == nil {
		hookData = []byte{}
	}

	return burnIntentMessage{
		MaxBlockHeight: intent.MaxBlockHeight.String(),
		MaxFee:         intent.MaxFeeMicros.String(),
		Spec: specMessage{
			Version:              spec.Version,
			SourceDomain:         spec.SourceDomain,
			DestinationDomain:    spec.DestinationDomain,
			SourceContract:       units.AddressToBytes32(spec.SourceContract).Hex(),
			DestinationContract:  units.AddressToBytes32(spec.DestinationContract).Hex(),
			SourceToken:          units.AddressToBytes32(spec.SourceToken).Hex(),
			DestinationToken:     units.AddressToBytes32(spec.DestinationToken).Hex(),
			SourceDepositor:      units.AddressToBytes32(spec.SourceDepositor).Hex(),
			DestinationRecipient: units.AddressToBytes32(spec.DestinationRecipient).Hex(),
			SourceSigner:         units.AddressToBytes32(spec.SourceSigner).Hex(),
			DestinationCaller:    units.AddressToBytes32(spec.DestinationCaller).Hex(),
			Value:                spec.ValueMicros.String(),
			Salt:                 hexutil.Encode(spec.Salt[:]),
			HookData:             hexutil.Encode(hookData),
		},
	}
}
