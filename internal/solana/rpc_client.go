package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ledgerindexer/internal/resilience"

	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when the ledger has no data for the requested key:
// a pruned or unknown signature, a missing account, an unknown mint.
var ErrNotFound = errors.New("not found on ledger")

// DefaultRetryPolicy fornisce una configurazione di default ragionevole
func DefaultRetryPolicy() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     15 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		Retryable:    isRetryableError,
	}
}

// rpcResponse struttura per le risposte RPC
type rpcResponse struct {
	JsonRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	ID int `json:"id"`
}

// RPCError rappresenta un errore RPC custom
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error: %d - %s", e.Code, e.Message)
}

// Codici Solana recuperabili (rate limit, nodo in ritardo, timeout)
var retryableCodes = map[int]bool{
	-32000: true, // Generic rate limit/overload response
	-32004: true, // Block not available for slot
	-32005: true, // Node is behind
	-32014: true, // Block status not yet available
	-32016: true, // Minimum context slot not reached
}

func (e *RPCError) retryable() bool {
	return retryableCodes[e.Code]
}

// HTTPStatusError is a non-2xx answer from the node before any JSON-RPC payload.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

type Options struct {
	RPCURL  string
	WSURL   string
	Retry   *resilience.RetryPolicy
	Breaker *resilience.BreakerConfig
	Timeout time.Duration
	// ReconnectDelay is the first wait before re-opening a dropped subscription.
	ReconnectDelay time.Duration
}

// Client esteso con configurazione retry e circuit breaker
type Client struct {
	rpcURL         string
	wsURL          string
	httpClient     *http.Client
	retry          resilience.RetryPolicy
	breaker        *resilience.CircuitBreaker
	dial           dialFunc
	reconnectDelay time.Duration
	log            *logrus.Logger
}

func NewClient(opts Options, log *logrus.Logger) *Client {
	retry := DefaultRetryPolicy()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	if retry.Retryable == nil {
		retry.Retryable = isRetryableError
	}

	breakerCfg := resilience.DefaultBreakerConfig("solana-rpc")
	if opts.Breaker != nil {
		breakerCfg = *opts.Breaker
	}
	if breakerCfg.OnStateChange == nil {
		breakerCfg.OnStateChange = func(name string, from, to resilience.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	reconnectDelay := opts.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}

	return &Client{
		rpcURL:         opts.RPCURL,
		wsURL:          opts.WSURL,
		httpClient:     &http.Client{Timeout: timeout},
		retry:          retry,
		breaker:        resilience.NewCircuitBreaker(breakerCfg),
		dial:           dialProgram,
		reconnectDelay: reconnectDelay,
		log:            log,
	}
}

// isRetryableError determina se un errore è recuperabile
func isRetryableError(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.retryable()
	}

	return resilience.IsConnectionError(err)
}

// rpcCall passa dal circuit breaker; le risposte applicative (param non validi,
// mint sconosciuto) non contano come guasti del nodo.
func (c *Client) rpcCall(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	var (
		result  json.RawMessage
		callErr error
	)

	err := c.breaker.Execute(func() error {
		result, callErr = c.rpcCallWithRetry(ctx, method, params)
		var rpcErr *RPCError
		if errors.As(callErr, &rpcErr) && !rpcErr.retryable() {
			return nil
		}
		return callErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if callErr != nil {
		return nil, fmt.Errorf("%s: %w", method, callErr)
	}
	return result, nil
}

// rpcCallWithRetry con retry
func (c *Client) rpcCallWithRetry(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	policy := c.retry
	policy.OnRetry = func(err error, wait time.Duration) {
		c.log.WithFields(logrus.Fields{
			"method": method,
			"wait":   wait,
			"error":  err,
		}).Debug("Retrying RPC call")
	}

	var result json.RawMessage
	err := policy.Do(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = c.doRPCCall(ctx, method, params)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// doRPCCall esegue la singola chiamata RPC
func (c *Client) doRPCCall(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	// Risposta vuota: trattiamola come rate limit (null invece è un risultato valido)
	if len(rpcResp.Result) == 0 {
		return nil, &RPCError{
			Code:    -32000,
			Message: "empty response from node (possibly rate limited)",
		}
	}

	return rpcResp.Result, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// GetSignaturesForAddress restituisce le signature più recenti per primo
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, opts SignaturesOptions) ([]SignatureInfo, error) {
	config := map[string]any{
		"commitment": "confirmed",
	}
	if opts.Limit > 0 {
		config["limit"] = opts.Limit
	}
	if opts.Before != "" {
		config["before"] = opts.Before
	}
	if opts.Until != "" {
		config["until"] = opts.Until
	}

	response, err := c.rpcCall(ctx, "getSignaturesForAddress", []any{address, config})
	if err != nil {
		return nil, err
	}

	var signatures []SignatureInfo
	if isNull(response) {
		return signatures, nil
	}
	if err := json.Unmarshal(response, &signatures); err != nil {
		return nil, fmt.Errorf("error unmarshaling signatures: %w", err)
	}

	return signatures, nil
}

// GetParsedTransaction returns ErrNotFound when the node has no record of the signature.
func (c *Client) GetParsedTransaction(ctx context.Context, signature string) (*SolanaTransaction, error) {
	params := []any{
		signature,
		map[string]any{
			"encoding":                       "jsonParsed",
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		},
	}

	response, err := c.rpcCall(ctx, "getTransaction", params)
	if err != nil {
		return nil, err
	}
	if isNull(response) {
		return nil, ErrNotFound
	}

	var transaction SolanaTransaction
	if err := json.Unmarshal(response, &transaction); err != nil {
		return nil, fmt.Errorf("error unmarshaling transaction: %w", err)
	}

	return &transaction, nil
}

// GetTokenLargestAccounts returns ErrNotFound for an unknown mint.
func (c *Client) GetTokenLargestAccounts(ctx context.Context, mint string) ([]TokenAccountBalance, error) {
	response, err := c.rpcCall(ctx, "getTokenLargestAccounts", []any{
		mint,
		map[string]any{"commitment": "confirmed"},
	})
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == -32602 && strings.Contains(strings.ToLower(rpcErr.Message), "mint") {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var result contextResult[[]TokenAccountBalance]
	if err := json.Unmarshal(response, &result); err != nil {
		return nil, fmt.Errorf("error unmarshaling largest accounts: %w", err)
	}

	return result.Value, nil
}

// GetParsedAccountInfo returns ErrNotFound when the account does not exist.
func (c *Client) GetParsedAccountInfo(ctx context.Context, pubkey string) (*ParsedTokenAccount, error) {
	response, err := c.rpcCall(ctx, "getAccountInfo", []any{
		pubkey,
		map[string]any{"encoding": "jsonParsed", "commitment": "confirmed"},
	})
	if err != nil {
		return nil, err
	}

	var result contextResult[*accountValue]
	if err := json.Unmarshal(response, &result); err != nil {
		return nil, fmt.Errorf("error unmarshaling account info: %w", err)
	}
	if result.Value == nil {
		return nil, ErrNotFound
	}

	account := &ParsedTokenAccount{
		Pubkey:   pubkey,
		Lamports: result.Value.Lamports,
		Program:  result.Value.Owner,
	}

	// Gli account non parsati arrivano come [data, encoding]
	var parsed parsedAccountData
	if err := json.Unmarshal(result.Value.Data, &parsed); err == nil {
		account.Owner = parsed.Parsed.Info.Owner
		account.Mint = parsed.Parsed.Info.Mint
		account.State = parsed.Parsed.Info.State
		account.Amount = parsed.Parsed.Info.TokenAmount
	}

	return account, nil
}
