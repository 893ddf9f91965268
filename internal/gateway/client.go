// Package gateway is the outbound client for the national health-data
// exchange. Every call is an HTTP POST that the gateway acknowledges with
// 202 Accepted; results arrive later as callbacks.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/10bedicu/care-abdm/internal/platform/cache"
)

// Config carries the identity this deployment presents to the gateway.
type Config struct {
	BaseURL      string
	CMID         string
	ClientID     string
	ClientSecret string
	// HIUID and HIPID are the facility identities for consumer-side and
	// provider-side calls respectively.
	HIUID   string
	HIPID   string
	Timeout time.Duration
}

// Client is a stateless façade over the gateway's POST endpoints. Safe for
// concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens *tokenSource
	log    zerolog.Logger
}

func New(cfg Config, c *cache.Cache, log zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 25 * time.Second
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		cfg:    cfg,
		http:   hc,
		tokens: newTokenSource(cfg.BaseURL, cfg.ClientID, cfg.ClientSecret, c, hc),
		log:    log.With().Str("component", "gateway").Logger(),
	}
}

func newRequestID() string {
	return uuid.NewString()
}

// gatewayTimestamp is the exact wire format the gateway validates:
// UTC, millisecond precision, literal Z suffix.
func gatewayTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// post sends one gateway call and returns the REQUEST-ID it went out
// under; callbacks correlate on that id. A cached token rejected with the
// invalid-token code is evicted and the call retried exactly once with a
// fresh token; every other failure surfaces as *Error.
func (c *Client) post(ctx context.Context, path string, payload any, headers map[string]string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	retried := false
	for {
		requestID, gwErr := c.doPost(ctx, path, body, headers)
		if gwErr == nil {
			return requestID, nil
		}
		if !retried && gwErr.Code == invalidTokenCode {
			retried = true
			c.tokens.Invalidate()
			continue
		}
		c.log.Error().Str("path", path).Int("status", gwErr.StatusCode).
			Str("code", gwErr.Code).Str("message", gwErr.Message).
			Msg("gateway call failed")
		return requestID, gwErr
	}
}

func (c *Client) doPost(ctx context.Context, path string, body []byte, headers map[string]string) (string, *Error) {
	requestID := newRequestID()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		if ge, ok := err.(*Error); ok {
			return requestID, ge
		}
		return requestID, &Error{Kind: KindUpstream, Path: path, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return requestID, &Error{Kind: KindValidation, Path: path, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("REQUEST-ID", requestID)
	req.Header.Set("TIMESTAMP", gatewayTimestamp())
	req.Header.Set("X-CM-ID", c.cfg.CMID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Includes client timeout: the gateway may have accepted the
		// request, so the caller must treat the outcome as unknown
		// and never retry inline.
		return requestID, &Error{Kind: KindUnavailable, Path: path, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return requestID, nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	code, msg := extractError(respBody)
	kind := KindUpstream
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && code != invalidTokenCode {
		kind = KindValidation
	}
	return requestID, &Error{Kind: kind, StatusCode: resp.StatusCode, Code: code, Message: msg, Path: path}
}

func (c *Client) hiuHeaders() map[string]string {
	return map[string]string{"X-HIU-ID": c.cfg.HIUID}
}

func (c *Client) hipHeaders() map[string]string {
	return map[string]string{"X-HIP-ID": c.cfg.HIPID}
}

// -- consumer (HIU) calls --

// ConsentRequestInit asks the gateway to open a consent request with the
// patient. The gateway answers on the hiu consent on-init callback, which
// carries the returned request id.
func (c *Client) ConsentRequestInit(ctx context.Context, req *ConsentRequestInitPayload) (string, error) {
	return c.post(ctx, "/gateway/v3/hiu/consent/request/init", req, c.hiuHeaders())
}

// ConsentRequestStatus polls the state of a pending consent request.
func (c *Client) ConsentRequestStatus(ctx context.Context, consentRequestID string) error {
	_, err := c.post(ctx, "/gateway/v3/hiu/consent/request/status",
		&consentStatusPayload{ConsentRequestID: consentRequestID}, c.hiuHeaders())
	return err
}

// ConsentFetch requests the full artefact detail for one granted consent.
func (c *Client) ConsentFetch(ctx context.Context, consentID string) error {
	_, err := c.post(ctx, "/gateway/v3/hiu/consent/fetch",
		&consentFetchPayload{ConsentID: consentID}, c.hiuHeaders())
	return err
}

// ConsentRequestHIUOnNotify acknowledges a consent notification.
func (c *Client) ConsentRequestHIUOnNotify(ctx context.Context, ack *ConsentOnNotifyPayload) error {
	_, err := c.post(ctx, "/gateway/v3/hiu/consent/request/on-notify", ack, c.hiuHeaders())
	return err
}

// HealthInformationRequest asks HIPs to push data covered by an artefact.
func (c *Client) HealthInformationRequest(ctx context.Context, req *HealthInformationRequestPayload) (string, error) {
	return c.post(ctx, "/gateway/v3/hiu/health-information/request", req, c.hiuHeaders())
}

// HealthInformationNotify reports the outcome of a data transfer.
func (c *Client) HealthInformationNotify(ctx context.Context, n *HealthInformationNotifyPayload) error {
	_, err := c.post(ctx, "/gateway/v3/hiu/health-information/notify", n, c.hiuHeaders())
	return err
}

// -- provider (HIP) calls --

// GenerateLinkToken asks the gateway for a link token for a patient. The
// token arrives on the hip on-generate-token callback.
func (c *Client) GenerateLinkToken(ctx context.Context, req *GenerateLinkTokenPayload) (string, error) {
	return c.post(ctx, "/gateway/v3/hip/token/generate-token", req, c.hipHeaders())
}

// LinkCareContext registers care contexts against a patient's ABHA using a
// previously issued link token.
func (c *Client) LinkCareContext(ctx context.Context, linkToken string, req *LinkCareContextPayload) (string, error) {
	headers := c.hipHeaders()
	headers["X-LINK-TOKEN"] = linkToken
	return c.post(ctx, "/gateway/v3/hip/link/carecontext", req, headers)
}

// ConsentRequestHIPOnNotify acknowledges a provider-side consent grant.
func (c *Client) ConsentRequestHIPOnNotify(ctx context.Context, ack *ConsentOnNotifyPayload) error {
	_, err := c.post(ctx, "/gateway/v3/hip/consent/request/on-notify", ack, c.hipHeaders())
	return err
}

// HealthInformationHIPOnRequest acknowledges a provider-side data request.
func (c *Client) HealthInformationHIPOnRequest(ctx context.Context, ack *HIPOnRequestPayload) error {
	_, err := c.post(ctx, "/gateway/v3/hip/health-information/on-request", ack, c.hipHeaders())
	return err
}

// RegisterService announces this facility as an HIP/HIU service provider.
// The gateway rejects re-registration of an already associated facility;
// that rejection is tolerated by the caller.
func (c *Client) RegisterService(ctx context.Context, req *RegisterServicePayload) error {
	_, err := c.post(ctx, "/gateway/v3/facility/register-service", req, c.hipHeaders())
	return err
}
