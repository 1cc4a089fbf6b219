// Package ticket is the client of the ticket service, the single writer of
// ticket ownership and status. This module never touches ticket rows directly.
package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ledgerindexer/internal/models"
	"ledgerindexer/internal/resilience"

	"github.com/sirupsen/logrus"
)

// StatusError is a non-2xx answer from the ticket service.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ticket service %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.temporary()
	}
	return resilience.IsConnectionError(err)
}

type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Retry   *resilience.RetryPolicy
	Breaker *resilience.BreakerConfig
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      resilience.RetryPolicy
	breaker    *resilience.CircuitBreaker
	log        *logrus.Logger
}

func NewClient(opts Options, log *logrus.Logger) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	retry := resilience.ConnectionPolicy(3)
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	retry.Retryable = retryable

	breakerCfg := resilience.DefaultBreakerConfig("ticket-service")
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

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
		breaker:    resilience.NewCircuitBreaker(breakerCfg),
		log:        log,
	}
}

// do esegue la richiesta con retry dentro il circuit breaker. Le risposte 4xx
// sono errori del chiamante e non aprono il circuito.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var callErr error
	err := c.breaker.Execute(func() error {
		callErr = c.retry.Do(ctx, func(ctx context.Context) error {
			return c.doOnce(ctx, method, path, body, out)
		})
		var statusErr *StatusError
		if errors.As(callErr, &statusErr) && !statusErr.temporary() {
			return nil
		}
		return callErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("ticket service %s %s: %w", method, path, err)
	}
	return callErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound
}

func tokenPath(tokenID string, suffix string) string {
	return "/internal/tickets/tokens/" + url.PathEscape(tokenID) + suffix
}

// CheckTokenExists reports whether the token belongs to a ticket of this platform.
func (c *Client) CheckTokenExists(ctx context.Context, tokenID string) (bool, error) {
	var resp struct {
		Exists bool `json:"exists"`
	}
	if err := c.do(ctx, http.MethodGet, tokenPath(tokenID, "/exists"), nil, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// GetTicketByToken returns nil when no ticket holds the token.
func (c *Client) GetTicketByToken(ctx context.Context, tokenID string) (*models.Ticket, error) {
	var t models.Ticket
	err := c.do(ctx, http.MethodGet, tokenPath(tokenID, ""), nil, &t)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) UpdateBlockchainSyncByToken(ctx context.Context, tokenID string, patch models.SyncPatch) error {
	return c.do(ctx, http.MethodPatch, tokenPath(tokenID, "/blockchain-sync"), patch, nil)
}

func (c *Client) UpdateBlockchainSync(ctx context.Context, ticketID string, patch models.SyncPatch) error {
	return c.do(ctx, http.MethodPatch, "/internal/tickets/"+url.PathEscape(ticketID)+"/blockchain-sync", patch, nil)
}

func (c *Client) RecordBlockchainTransfer(ctx context.Context, transfer models.TransferRecord) error {
	return c.do(ctx, http.MethodPost, "/internal/tickets/transfers", transfer, nil)
}

func (c *Client) UpdateMarketplaceStatus(ctx context.Context, update models.MarketplaceStatusUpdate) error {
	return c.do(ctx, http.MethodPost, "/internal/tickets/marketplace-status", update, nil)
}

func (c *Client) GetTicketsForReconciliation(ctx context.Context, filter models.ReconciliationFilter) ([]models.Ticket, error) {
	var resp struct {
		Tickets []models.Ticket `json:"tickets"`
	}
	if err := c.do(ctx, http.MethodPost, "/internal/tickets/reconciliation/query", filter, &resp); err != nil {
		return nil, err
	}
	return resp.Tickets, nil
}
