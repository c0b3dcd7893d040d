package gmp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Fee estimation defaults
const (
	DefaultAxelarscanURL  = "https://testnet.api.axelarscan.io"
	DefaultGasLimit       = 700_000
	DefaultGasMultiplier  = 1.1
	DefaultRequestTimeout = 15 * time.Second

	estimateGasFeePath = "/gmp/estimateGasFee"
	contentTypeJSON    = "application/json"
	userAgent          = "protocolx/1.0.0"
)

// ErrInvalidFee is returned when a quote cannot be parsed as a wei amount.
var ErrInvalidFee = errors.New("invalid fee quote")

// FeeEstimator quotes the native-token fee that must accompany a cross-chain call.
type FeeEstimator interface {
	EstimateGasFee(ctx context.Context, sourceChain, destinationChain, sourceTokenSymbol string) (*big.Int, error)
}

// FixedFee always quotes the same amount. Useful on local networks where
// the gas service accepts any payment.
type FixedFee struct {
	Amount *big.Int
}

// EstimateGasFee returns the fixed amount.
func (f FixedFee) EstimateGasFee(context.Context, string, string, string) (*big.Int, error) {
	if f.Amount == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(f.Amount), nil
}

// APIError is a non-2xx response from the fee API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fee api returned %d: %s", e.StatusCode, e.Message)
}

// AxelarscanEstimator quotes fees from the Axelarscan GMP API.
type AxelarscanEstimator struct {
	baseURL       string
	httpClient    *http.Client
	gasLimit      uint64
	gasMultiplier float64
}

// EstimatorOption configures an AxelarscanEstimator.
type EstimatorOption func(*AxelarscanEstimator)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) EstimatorOption {
	return func(e *AxelarscanEstimator) { e.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) EstimatorOption {
	return func(e *AxelarscanEstimator) { e.httpClient = c }
}

// WithGasLimit sets the destination gas limit the quote covers.
func WithGasLimit(limit uint64) EstimatorOption {
	return func(e *AxelarscanEstimator) { e.gasLimit = limit }
}

// WithGasMultiplier sets the safety multiplier applied by the API.
func WithGasMultiplier(m float64) EstimatorOption {
	return func(e *AxelarscanEstimator) { e.gasMultiplier = m }
}

// NewAxelarscanEstimator creates an estimator with testnet defaults.
func NewAxelarscanEstimator(opts ...EstimatorOption) *AxelarscanEstimator {
	e := &AxelarscanEstimator{
		baseURL:       DefaultAxelarscanURL,
		httpClient:    &http.Client{Timeout: DefaultRequestTimeout},
		gasLimit:      DefaultGasLimit,
		gasMultiplier: DefaultGasMultiplier,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type estimateRequest struct {
	SourceChain       string  `json:"sourceChain"`
	DestinationChain  string  `json:"destinationChain"`
	SourceTokenSymbol string  `json:"sourceTokenSymbol"`
	GasLimit          uint64  `json:"gasLimit"`
	GasMultiplier     float64 `json:"gasMultiplier"`
}

// EstimateGasFee asks Axelarscan for the fee of a call from sourceChain to destinationChain.
func (e *AxelarscanEstimator) EstimateGasFee(ctx context.Context, sourceChain, destinationChain, sourceTokenSymbol string) (*big.Int, error) {
	reqURL, err := url.JoinPath(e.baseURL, estimateGasFeePath)
	if err != nil {
		return nil, fmt.Errorf("failed to build URL: %w", err)
	}

	body, err := json.Marshal(estimateRequest{
		SourceChain:       sourceChain,
		DestinationChain:  destinationChain,
		SourceTokenSymbol: sourceTokenSymbol,
		GasLimit:          e.gasLimit,
		GasMultiplier:     e.gasMultiplier,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	return ParseFee(respBody)
}

// ParseFee decodes a wei amount returned as a JSON string or number.
// Detailed responses carrying executionFee and baseFee are summed.
func ParseFee(raw []byte) (*big.Int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrInvalidFee)
	}

	if raw[0] == '{' {
		var detailed struct {
			BaseFee      json.RawMessage `json:"baseFee"`
			ExecutionFee json.RawMessage `json:"executionFee"`
		}
		if err := json.Unmarshal(raw, &detailed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFee, err)
		}
		if detailed.BaseFee == nil && detailed.ExecutionFee == nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidFee, raw)
		}
		total := new(big.Int)
		for _, part := range []json.RawMessage{detailed.BaseFee, detailed.ExecutionFee} {
			if part == nil {
				continue
			}
			v, err := ParseFee(part)
			if err != nil {
				return nil, err
			}
			total.Add(total, v)
		}
		return total, nil
	}

	s := strings.Trim(string(raw), `"`)
	fee, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFee, s)
	}
	return fee, nil
}
