// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package blockcypher implements a client for the subset of the BlockCypher
// REST API the gateway relies on: address reports, address generation,
// transaction skeletons and broadcast.
package blockcypher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public BlockCypher endpoint.
	DefaultBaseURL = "https://api.blockcypher.com/v1"

	// DefaultTimeout bounds every upstream call.
	DefaultTimeout = 20 * time.Second

	// DefaultRetries is the number of retries for idempotent calls.
	DefaultRetries = 2

	opAddress    = "addrs/full"
	opNewAddress = "addrs"
	opNewTx      = "txs/new"
	opSendTx     = "txs/send"
)

// Config holds the settings of a Client.
type Config struct {
	// BaseURL is the API root without the network path.
	BaseURL string

	// Network is the chain path, "btc/main" or "btc/test3".
	Network string

	// Token is the optional API token sent as the token query parameter.
	Token string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// Retries is the retry count for calls that are safe to repeat.
	// Broadcasts are never retried.
	Retries int

	// RetryWait is the initial backoff between retries.
	RetryWait time.Duration

	// RequestsPerSecond limits the request rate across all calls. Zero
	// disables limiting.
	RequestsPerSecond float64

	// Observe, if set, is called with the operation name and elapsed
	// time of every call.
	Observe func(op string, elapsed time.Duration)

	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
}

// Client talks to the upstream block explorer.
type Client struct {
	cfg     Config
	reads   *resty.Client
	sends   *resty.Client
	limiter *rate.Limiter
}

// New returns a client for the configured network.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	root := strings.TrimSuffix(cfg.BaseURL, "/") + "/" +
		strings.Trim(cfg.Network, "/")

	newClient := func(retries int) *resty.Client {
		c := resty.New().
			SetBaseURL(root).
			SetTimeout(cfg.Timeout).
			SetHeader("Accept", "application/json").
			SetLogger(log).
			SetRetryCount(retries).
			SetRetryWaitTime(cfg.RetryWait).
			SetRetryMaxWaitTime(10 * cfg.RetryWait).
			AddRetryCondition(retryable)
		if cfg.Transport != nil {
			c.SetTransport(cfg.Transport)
		}
		return c
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		cfg:     cfg,
		reads:   newClient(cfg.Retries),
		sends:   newClient(0),
		limiter: limiter,
	}
}

// retryable reports whether a response warrants another attempt. Transport
// errors are always retried by resty.
func retryable(resp *resty.Response, err error) bool {
	if err != nil || resp == nil {
		return true
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= 500
}

// AddressFull fetches the full report of an address and returns its raw
// body. The caller reconciles and validates it.
func (c *Client) AddressFull(ctx context.Context,
	address string) (json.RawMessage, error) {

	req := c.request(ctx, c.reads).SetPathParam("address", address)
	body, err := c.do(ctx, opAddress, func() (*resty.Response, error) {
		return req.Get("/addrs/{address}/full")
	})
	if err != nil {
		return nil, err
	}

	log.Tracef("Address report for %s: %s", address, body)
	return body, nil
}

// NewAddress asks the upstream to generate a fresh address and key pair.
func (c *Client) NewAddress(ctx context.Context) (*NewAddress, error) {
	req := c.request(ctx, c.reads)
	body, err := c.do(ctx, opNewAddress, func() (*resty.Response, error) {
		return req.Post("/addrs")
	})
	if err != nil {
		return nil, err
	}

	var addr NewAddress
	if err := json.Unmarshal(body, &addr); err != nil {
		return nil, &APIError{Op: opNewAddress, Payload: body, Err: err}
	}
	if addr.Address == "" || addr.WIF == "" {
		return nil, &APIError{
			Op:      opNewAddress,
			Payload: body,
			Err:     errors.New("response lacks address or wif"),
		}
	}

	return &addr, nil
}

// NewTransaction requests an unsigned transaction skeleton.
func (c *Client) NewTransaction(ctx context.Context,
	txReq *TxRequest) (*Skeleton, error) {

	log.Tracef("New transaction request: %v", newLogClosure(func() string {
		return spew.Sdump(txReq)
	}))

	req := c.request(ctx, c.reads).SetBody(txReq)
	body, err := c.do(ctx, opNewTx, func() (*resty.Response, error) {
		return req.Post("/txs/new")
	})
	if err != nil {
		return nil, err
	}

	var skel Skeleton
	if err := json.Unmarshal(body, &skel); err != nil {
		return nil, &APIError{Op: opNewTx, Payload: body, Err: err}
	}
	if len(skel.ToSign) == 0 {
		return nil, &APIError{
			Op:      opNewTx,
			Payload: body,
			Err:     errors.New("skeleton has nothing to sign"),
		}
	}

	return &skel, nil
}

// SendTransaction broadcasts a signed skeleton. It is attempted exactly
// once.
func (c *Client) SendTransaction(ctx context.Context,
	skel *Skeleton) (*SendResult, error) {

	req := c.request(ctx, c.sends).SetBody(skel)
	body, err := c.do(ctx, opSendTx, func() (*resty.Response, error) {
		return req.Post("/txs/send")
	})
	if err != nil {
		return nil, err
	}

	var result SendResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &APIError{Op: opSendTx, Payload: body, Err: err}
	}

	log.Debugf("Broadcast accepted, tx %q", result.Hash)
	return &result, nil
}

func (c *Client) request(ctx context.Context, rc *resty.Client) *resty.Request {
	req := rc.R().SetContext(ctx)
	if c.cfg.Token != "" {
		req.SetQueryParam("token", c.cfg.Token)
	}
	return req
}

// do runs a single upstream call through the rate limiter and turns every
// kind of failure into an *APIError.
func (c *Client) do(ctx context.Context, op string,
	send func() (*resty.Response, error)) (json.RawMessage, error) {

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &APIError{Op: op, Err: err}
	}

	start := time.Now()
	resp, err := send()
	if c.cfg.Observe != nil {
		c.cfg.Observe(op, time.Since(start))
	}
	if err != nil {
		return nil, &APIError{Op: op, Err: err}
	}

	body := json.RawMessage(resp.Body())
	if resp.IsError() {
		return nil, &APIError{
			Op:         op,
			StatusCode: resp.StatusCode(),
			Payload:    body,
			Err:        fmt.Errorf("unexpected status %s", resp.Status()),
		}
	}
	if err := bodyError(body); err != nil {
		return nil, &APIError{
			Op:         op,
			StatusCode: resp.StatusCode(),
			Payload:    body,
			Err:        err,
		}
	}

	return body, nil
}
