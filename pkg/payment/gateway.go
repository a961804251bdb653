package payment

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/reviewdesk/backend/pkg/crypto"
	"github.com/sirupsen/logrus"
)

const maxReplyBytes = 1 << 20

var (
	// ErrConfiguration means identifiers or key material are missing.
	ErrConfiguration = errors.New("payment gateway is not configured")
)

// GatewayError is a non-success or malformed reply from the gateway.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("gateway: %s", e.Message)
	}
	return fmt.Sprintf("gateway: status %d: %s", e.StatusCode, e.Message)
}

// Config holds everything the client needs to talk to one gateway
// environment. It is built by the caller; the client reads no globals.
type Config struct {
	Provider     string
	BaseURL      string
	OrderPath    string
	Identifier   string
	ReceiverID   string
	IntegratorID string
	PeerKey      *rsa.PublicKey
	PrivateKey   *rsa.PrivateKey
	Paddings     []crypto.Padding
	Timeout      time.Duration
}

// Validate reports every missing field at once.
func (c Config) Validate() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "base url")
	}
	if c.Identifier == "" {
		missing = append(missing, "identifier")
	}
	if c.ReceiverID == "" {
		missing = append(missing, "receiver id")
	}
	if c.PeerKey == nil {
		missing = append(missing, "gateway public key")
	}
	if c.PrivateKey == nil {
		missing = append(missing, "private key")
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrConfiguration, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Client talks to the gateway using sealed envelopes.
type Client struct {
	cfg       Config
	http      *http.Client
	log       *logrus.Entry
	onAttempt func(p crypto.Padding, result string)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the client logger.
func WithLogger(l *logrus.Entry) Option {
	return func(c *Client) { c.log = l }
}

// WithAttemptHook registers a callback invoked after every padding attempt
// with "ok", "retry" or "fatal".
func WithAttemptHook(fn func(p crypto.Padding, result string)) Option {
	return func(c *Client) { c.onAttempt = fn }
}

// NewClient validates cfg and returns a ready client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.OrderPath == "" {
		cfg.OrderPath = "/api/v1/orders"
	}
	if len(cfg.Paddings) == 0 {
		cfg.Paddings = crypto.DefaultPaddings
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Provider returns the configured provider name.
func (c *Client) Provider() string {
	return c.cfg.Provider
}

// CreateOrder seals req, posts it and returns the hosted checkout URL. The
// first padding is retried with the next one only when the gateway reports
// that it could not decrypt the envelope.
func (c *Client) CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	if req.ReceiverID == "" {
		req.ReceiverID = c.cfg.ReceiverID
	}
	if req.IntegratorID == "" {
		req.IntegratorID = c.cfg.IntegratorID
	}

	var resp *OrderResponse
	used, err := crypto.Negotiate(c.cfg.Paddings, func(p crypto.Padding) (crypto.Result, error) {
		r, res, err := c.postOrder(ctx, req, p)
		c.observe(req.ExternalOrderID, p, res, err)
		if res == crypto.Done {
			resp = r
		}
		return res, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create order %s", req.ExternalOrderID)
	}
	resp.Padding = used
	return resp, nil
}

// Open decodes an inbound envelope, trying each padding in order.
func (c *Client) Open(env Envelope, out any) (crypto.Padding, error) {
	if !env.IsSealed() {
		return 0, errors.New("envelope has no encrypted fields")
	}
	p, err := crypto.OpenNegotiated(env.sealed(), c.cfg.PrivateKey, c.cfg.Paddings, out)
	if err != nil {
		return p, errors.Wrap(err, "failed to open callback envelope")
	}
	return p, nil
}

func (c *Client) postOrder(ctx context.Context, req *OrderRequest, p crypto.Padding) (*OrderResponse, crypto.Result, error) {
	sealed, err := crypto.Seal(req, c.cfg.PeerKey, p)
	if err != nil {
		return nil, crypto.Abort, errors.Wrap(err, "failed to seal order")
	}

	body, err := json.Marshal(Envelope{
		Identifier:    c.cfg.Identifier,
		EncryptedData: sealed.Data,
		EncryptedKeys: sealed.Key,
		AES:           true,
	})
	if err != nil {
		return nil, crypto.Abort, errors.Wrap(err, "failed to encode envelope")
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.OrderPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, crypto.Abort, errors.Wrapf(err, "failed to create request for %s", c.cfg.OrderPath)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, crypto.Abort, errors.Wrapf(err, "failed to execute request for %s", c.cfg.OrderPath)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, crypto.Abort, errors.Wrap(err, "failed to read gateway reply")
	}

	var env Envelope
	jsonErr := json.Unmarshal(raw, &env)
	if (jsonErr != nil || !env.IsSealed()) && mentionsDecryptFailure(raw) {
		return nil, crypto.TryNext, &GatewayError{StatusCode: resp.StatusCode, Message: "peer could not decrypt envelope"}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, crypto.Abort, &GatewayError{StatusCode: resp.StatusCode, Message: truncate(string(raw), 256)}
	}
	if jsonErr != nil || !env.IsSealed() {
		return nil, crypto.Abort, &GatewayError{StatusCode: resp.StatusCode, Message: "reply is not a sealed envelope"}
	}

	var payload map[string]any
	if _, err := crypto.OpenNegotiated(env.sealed(), c.cfg.PrivateKey, replyOrder(p, c.cfg.Paddings), &payload); err != nil {
		return nil, crypto.Abort, errors.Wrap(err, "failed to open gateway reply")
	}

	checkout := checkoutURL(payload)
	if checkout == "" {
		return nil, crypto.Abort, &GatewayError{StatusCode: resp.StatusCode, Message: "reply has no checkout url"}
	}
	return &OrderResponse{CheckoutURL: checkout, Raw: payload}, crypto.Done, nil
}

func (c *Client) observe(orderID string, p crypto.Padding, res crypto.Result, err error) {
	result := "ok"
	switch res {
	case crypto.TryNext:
		result = "retry"
	case crypto.Abort:
		result = "fatal"
	}
	if c.onAttempt != nil {
		c.onAttempt(p, result)
	}

	entry := c.log.WithFields(logrus.Fields{"order_id": orderID, "padding": p.String(), "result": result})
	switch res {
	case crypto.Done:
		entry.Debug("gateway order accepted")
	case crypto.TryNext:
		entry.WithError(err).Warn("gateway rejected envelope padding")
	default:
		entry.WithError(err).Error("gateway order failed")
	}
}

// replyOrder tries the padding that just worked first for the reply.
func replyOrder(first crypto.Padding, all []crypto.Padding) []crypto.Padding {
	order := []crypto.Padding{first}
	for _, p := range all {
		if p != first {
			order = append(order, p)
		}
	}
	return order
}

// mentionsDecryptFailure looks for the gateway's decryption error signature
// in code/error/message fields, or in the raw body when it is not JSON.
func mentionsDecryptFailure(raw []byte) bool {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.Contains(strings.ToLower(string(raw)), "decrypt")
	}
	return fieldsMentionDecrypt(body)
}

func fieldsMentionDecrypt(body map[string]any) bool {
	for _, k := range []string{"code", "errorCode", "error", "message", "errorMessage"} {
		switch v := body[k].(type) {
		case string:
			if strings.Contains(strings.ToLower(v), "decrypt") {
				return true
			}
		case map[string]any:
			if fieldsMentionDecrypt(v) {
				return true
			}
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
