// Package broker is the client for the external credential-issuing and
// delete services. The broker hands out short-lived single-use write
// credentials; it is the only party holding long-term storage access.
package broker

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mediaforge/uploadkit/pkg/errors"
	"github.com/mediaforge/uploadkit/pkg/transform"
)

// DefaultCredentialTTL is assumed when the broker omits an expiry.
const DefaultCredentialTTL = 15 * time.Minute

// Credential is a time-boxed write authorization for one target key.
type Credential struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the credential can no longer be used.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Session groups the credentials for one logical upload. Discard after the
// upload completes or fails terminally; sessions are never reused.
type Session struct {
	CorrelationID string
	Credentials   map[string]Credential
}

type sessionResponse struct {
	CorrelationID string                `json:"correlationId"`
	Variants      map[string]Credential `json:"variants"`
}

type apiError struct {
	Error string `json:"error"`
}

// Client calls the upload-session and delete brokers.
type Client struct {
	rc        *resty.Client
	authToken string
}

// NewClient creates a broker client for the given base URL. The bearer
// token is attached to every request; the broker verifies it independently.
func NewClient(baseURL, authToken string) *Client {
	slog.Info("broker_client_init", "base_url", baseURL)

	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{rc: rc, authToken: authToken}
}

// RequestSession obtains one write credential per expected variant plus a
// correlation identifier. Broker rejections are terminal for this call: an
// expired or failed session is regenerated with a fresh request, never
// retried verbatim.
func (c *Client) RequestSession(ctx context.Context, collection string) (*Session, error) {
	return c.requestSession(ctx, collection, "")
}

// ResumeSession requests fresh credentials for an existing correlation id.
// The broker re-issues write access to the same target keys, which lets a
// resumed upload skip variants that already landed.
func (c *Client) ResumeSession(ctx context.Context, collection, correlationID string) (*Session, error) {
	return c.requestSession(ctx, collection, correlationID)
}

func (c *Client) requestSession(ctx context.Context, collection, correlationID string) (*Session, error) {
	slog.Info("broker_session_request", "collection", collection, "correlation_id", correlationID)

	body := map[string]string{"collection": collection}
	if correlationID != "" {
		body["correlationId"] = correlationID
	}

	var out sessionResponse
	var apiErr apiError

	resp, err := c.rc.R().
		SetContext(ctx).
		SetAuthToken(c.authToken).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post("/upload-sessions")
	if err != nil {
		slog.Error("broker_session_request_failed", "collection", collection, "error", err)
		return nil, requestErr(ctx, err)
	}

	if err := statusErr(resp.StatusCode(), apiErr.Error); err != nil {
		slog.Error("broker_session_rejected",
			"collection", collection,
			"status", resp.StatusCode(),
			"error", err)
		return nil, err
	}

	session := &Session{
		CorrelationID: out.CorrelationID,
		Credentials:   make(map[string]Credential, len(out.Variants)),
	}
	now := time.Now()
	for name, cred := range out.Variants {
		if cred.ExpiresAt.IsZero() {
			cred.ExpiresAt = now.Add(DefaultCredentialTTL)
		}
		session.Credentials[name] = cred
	}

	// Every expected variant needs exactly one credential.
	for _, name := range transform.VariantNames {
		if _, ok := session.Credentials[name]; !ok {
			slog.Error("broker_session_incomplete", "collection", collection, "missing_variant", name)
			return nil, errors.Newf(errors.KindTransient,
				"broker session is missing a credential for %q", name)
		}
	}

	slog.Info("broker_session_created",
		"collection", collection,
		"correlation_id", session.CorrelationID,
		"credential_count", len(session.Credentials))
	return session, nil
}

// Delete asks the delete broker to remove the canonical key and its sibling
// variants. Requires the same authorization as the write path.
func (c *Client) Delete(ctx context.Context, key string) error {
	slog.Info("broker_delete_request", "key", key)

	var apiErr apiError
	resp, err := c.rc.R().
		SetContext(ctx).
		SetAuthToken(c.authToken).
		SetBody(map[string]string{"key": key}).
		SetError(&apiErr).
		Post("/delete")
	if err != nil {
		slog.Error("broker_delete_request_failed", "key", key, "error", err)
		return requestErr(ctx, err)
	}

	if err := statusErr(resp.StatusCode(), apiErr.Error); err != nil {
		slog.Error("broker_delete_rejected", "key", key, "status", resp.StatusCode(), "error", err)
		return err
	}

	slog.Info("broker_delete_complete", "key", key)
	return nil
}

func requestErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.E(errors.KindCancelled, "broker request cancelled", ctx.Err())
	}
	return errors.E(errors.KindTransient, "broker request failed", err)
}

func statusErr(status int, detail string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	if detail == "" {
		detail = http.StatusText(status)
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.Newf(errors.KindAuthorization, "broker rejected credentials: %s", detail)
	case http.StatusBadRequest:
		return errors.Newf(errors.KindValidation, "broker rejected request: %s", detail)
	case http.StatusTooManyRequests:
		return errors.Newf(errors.KindRateLimit, "broker rate limit exceeded: %s", detail)
	default:
		return errors.Newf(errors.KindTransient, "broker returned status %d: %s", status, detail)
	}
}
