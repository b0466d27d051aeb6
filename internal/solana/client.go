package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Client represents a Solana JSON-RPC client for point queries.
// Streaming subscriptions live on WSClient.
type Client struct {
	endpoint   string
	apiKey     string
	commitment string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *logrus.Logger
}

// ClientConfig contains configuration for the Solana client
type ClientConfig struct {
	Endpoint   string
	APIKey     string
	Commitment string
	Timeout    time.Duration
}

// RPCRequest represents a JSON-RPC request
type RPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// RPCResponse represents a JSON-RPC response
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// ThrottledError marks an upstream "too many requests" response.
// The rate limiter keys its cool-down off this type.
type ThrottledError struct {
	Inner error
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("rpc throttled: %v", e.Inner)
}

func (e *ThrottledError) Unwrap() error { return e.Inner }

// IsThrottled reports whether err represents an upstream throttle response
func IsThrottled(err error) bool {
	var te *ThrottledError
	return errors.As(err, &te)
}

// AccountInfo represents Solana account information
type AccountInfo struct {
	Data       []string `json:"data"`
	Executable bool     `json:"executable"`
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
}

// DecodeData decodes the base64-encoded account payload
func (ai *AccountInfo) DecodeData() ([]byte, error) {
	if len(ai.Data) == 0 {
		return nil, fmt.Errorf("account has no data")
	}
	decoded, err := base64.StdEncoding.DecodeString(ai.Data[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode account data: %w", err)
	}
	return decoded, nil
}

// AccountInfoResponse represents the response for getAccountInfo
type AccountInfoResponse struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value *AccountInfo `json:"value"`
}

// TokenAmount represents a token balance in RPC responses
type TokenAmount struct {
	Amount         string  `json:"amount"`
	Decimals       uint8   `json:"decimals"`
	UIAmount       float64 `json:"uiAmount"`
	UIAmountString string  `json:"uiAmountString"`
}

// TokenAccountBalance pairs a holder address with its balance
type TokenAccountBalance struct {
	Address string `json:"address"`
	TokenAmount
}

// SignatureInfo represents one entry from getSignaturesForAddress
type SignatureInfo struct {
	Signature string      `json:"signature"`
	Slot      uint64      `json:"slot"`
	Err       interface{} `json:"err"`
	BlockTime *int64      `json:"blockTime"`
}

// TransactionResponse represents transaction response
type TransactionResponse struct {
	Slot        uint64                 `json:"slot"`
	Transaction map[string]interface{} `json:"transaction"`
	Meta        *TransactionMeta       `json:"meta"`
	BlockTime   *int64                 `json:"blockTime"`
}

// TransactionMeta contains transaction metadata
type TransactionMeta struct {
	Err               interface{}   `json:"err"`
	Fee               uint64        `json:"fee"`
	LogMessages       []string      `json:"logMessages"`
	PostTokenBalances []interface{} `json:"postTokenBalances"`
}

// NewClient creates a new Solana RPC client
func NewClient(config ClientConfig, logger *logrus.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Commitment == "" {
		config.Commitment = "confirmed"
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "SolanaRPC",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Client{
		endpoint:   config.Endpoint,
		apiKey:     config.APIKey,
		commitment: config.Commitment,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		breaker: breaker,
		logger:  logger,
	}
}

// ConnectWithRetry verifies RPC reachability with a bounded retry.
// Startup cannot proceed without ledger access, so exhaustion is fatal to the caller.
func (c *Client) ConnectWithRetry(ctx context.Context, attempts int, delay time.Duration) error {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		if _, err := c.GetSlot(ctx); err == nil {
			c.logger.WithField("attempt", i).Info("RPC connection established")
			return nil
		} else {
			lastErr = err
			c.logger.WithError(err).WithFields(logrus.Fields{
				"attempt":      i,
				"max_attempts": attempts,
			}).Warn("RPC connection attempt failed")
		}

		if i == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("failed to reach RPC endpoint after %d attempts: %w", attempts, lastErr)
}

// makeRequest makes a JSON-RPC request through the circuit breaker
func (c *Client) makeRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doRequest(ctx, method, params)
	})
	if err != nil {
		return nil, err
	}
	return result.(json.RawMessage), nil
}

func (c *Client) doRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	request := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"endpoint": c.endpoint,
	}).Debug("Making RPC request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &ThrottledError{Inner: fmt.Errorf("HTTP 429: %s", string(responseBody))}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(responseBody))
	}

	var rpcResponse RPCResponse
	if err := json.Unmarshal(responseBody, &rpcResponse); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResponse.Error != nil {
		// Some providers signal throttling at the JSON-RPC layer
		if rpcResponse.Error.Code == 429 || rpcResponse.Error.Code == -32429 {
			return nil, &ThrottledError{Inner: rpcResponse.Error}
		}
		return nil, rpcResponse.Error
	}

	return rpcResponse.Result, nil
}

// GetAccountInfo gets account information
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	params := []interface{}{
		address,
		map[string]interface{}{
			"encoding":   "base64",
			"commitment": c.commitment,
		},
	}

	result, err := c.makeRequest(ctx, "getAccountInfo", params)
	if err != nil {
		return nil, fmt.Errorf("getAccountInfo failed: %w", err)
	}

	var accountResponse AccountInfoResponse
	if err := json.Unmarshal(result, &accountResponse); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account info: %w", err)
	}

	if accountResponse.Value == nil {
		return nil, fmt.Errorf("account %s not found", address)
	}

	return accountResponse.Value, nil
}

// GetTokenSupply gets the total supply of a mint
func (c *Client) GetTokenSupply(ctx context.Context, mint string) (*TokenAmount, error) {
	params := []interface{}{
		mint,
		map[string]interface{}{"commitment": c.commitment},
	}

	result, err := c.makeRequest(ctx, "getTokenSupply", params)
	if err != nil {
		return nil, fmt.Errorf("getTokenSupply failed: %w", err)
	}

	var supplyResponse struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value TokenAmount `json:"value"`
	}
	if err := json.Unmarshal(result, &supplyResponse); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token supply: %w", err)
	}

	return &supplyResponse.Value, nil
}

// GetTokenLargestAccounts gets the largest holders of a mint
func (c *Client) GetTokenLargestAccounts(ctx context.Context, mint string) ([]TokenAccountBalance, error) {
	params := []interface{}{
		mint,
		map[string]interface{}{"commitment": c.commitment},
	}

	result, err := c.makeRequest(ctx, "getTokenLargestAccounts", params)
	if err != nil {
		return nil, fmt.Errorf("getTokenLargestAccounts failed: %w", err)
	}

	var holdersResponse struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value []TokenAccountBalance `json:"value"`
	}
	if err := json.Unmarshal(result, &holdersResponse); err != nil {
		return nil, fmt.Errorf("failed to unmarshal largest accounts: %w", err)
	}

	return holdersResponse.Value, nil
}

// GetSignaturesForAddress lists recent transaction signatures touching an address
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	params := []interface{}{
		address,
		map[string]interface{}{
			"limit":      limit,
			"commitment": c.commitment,
		},
	}

	result, err := c.makeRequest(ctx, "getSignaturesForAddress", params)
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress failed: %w", err)
	}

	var signatures []SignatureInfo
	if err := json.Unmarshal(result, &signatures); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signatures: %w", err)
	}

	return signatures, nil
}

// GetTransaction gets transaction information
func (c *Client) GetTransaction(ctx context.Context, signature string) (*TransactionResponse, error) {
	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "json",
			"maxSupportedTransactionVersion": 0,
		},
	}

	result, err := c.makeRequest(ctx, "getTransaction", params)
	if err != nil {
		return nil, fmt.Errorf("getTransaction failed: %w", err)
	}

	var transaction TransactionResponse
	if err := json.Unmarshal(result, &transaction); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}

	return &transaction, nil
}

// GetSlot gets current slot
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	result, err := c.makeRequest(ctx, "getSlot", nil)
	if err != nil {
		return 0, fmt.Errorf("getSlot failed: %w", err)
	}

	var slot uint64
	if err := json.Unmarshal(result, &slot); err != nil {
		return 0, fmt.Errorf("invalid response format for getSlot: %w", err)
	}

	return slot, nil
}

// GetHealth checks node health; a healthy node returns the string "ok"
func (c *Client) GetHealth(ctx context.Context) error {
	result, err := c.makeRequest(ctx, "getHealth", nil)
	if err != nil {
		return fmt.Errorf("getHealth failed: %w", err)
	}

	var status string
	if err := json.Unmarshal(result, &status); err != nil {
		return fmt.Errorf("invalid response format for getHealth: %w", err)
	}
	if status != "ok" {
		return fmt.Errorf("node unhealthy: %s", status)
	}
	return nil
}
