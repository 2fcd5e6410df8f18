// Package httpsync is a concrete HTTP adapter for the downstream sync
// client, its health probe, and the upstream scene lookup. It talks to
// a configurable HTTP endpoint with a bearer token. Nothing in
// internal/syncworker or internal/dlqrecovery depends on this package
// directly; they depend only on syncclient's interfaces, and
// cmd/syncqueued wires a concrete *Adapter into them at startup.
package httpsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yungbote/syncqueue/internal/platform/ctxutil"
	"github.com/yungbote/syncqueue/internal/syncclient"
)

// Config configures an Adapter.
type Config struct {
	// BaseURL is the downstream/upstream service's root, e.g.
	// "https://media.example.com".
	BaseURL string
	// APIKey is sent as a bearer token on every request.
	APIKey string
}

// Adapter implements syncclient.Client, syncclient.Prober, and
// syncclient.SceneLookup against a single HTTP service.
type Adapter struct {
	cfg    Config
	client *http.Client
}

// New builds an Adapter. The underlying *http.Client has no default
// timeout: Probe is bounded by its timeout argument, and Sync and
// FindScene only by whatever deadline the caller's ctx carries.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg, client: &http.Client{}}
}

// Sync implements syncclient.Client.
func (a *Adapter) Sync(ctx context.Context, payload syncclient.ScenePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("httpsync: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/sync", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("httpsync: build request: %w", err)
	}
	a.setHeaders(ctx, req)

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	return classifyStatus(resp.StatusCode)
}

// Probe implements syncclient.Prober, exercising a lightweight
// deep-health endpoint rather than the full sync path.
func (a *Adapter) Probe(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("httpsync: build probe request: %w", err)
	}
	a.setHeaders(ctx, req)

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	return classifyStatus(resp.StatusCode)
}

// FindScene implements syncclient.SceneLookup.
func (a *Adapter) FindScene(ctx context.Context, sceneID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/scenes/"+sceneID, nil)
	if err != nil {
		return false, fmt.Errorf("httpsync: build lookup request: %w", err)
	}
	a.setHeaders(ctx, req)

	resp, err := a.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("httpsync: scene lookup returned status %d", resp.StatusCode)
	}
}

func (a *Adapter) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
	if td := ctxutil.GetTraceData(ctx); td != nil && td.TraceID != "" {
		req.Header.Set("X-Correlation-ID", td.TraceID)
	}
}

// Classify maps an error returned by Sync into syncclient's closed
// taxonomy. Constructed via syncclient.New(syncclient.NotFoundRetry,
// httpsync.Classify) at wiring time.
func Classify(err error) syncclient.ErrorKind {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.kind
	}
	return syncclient.KindClassification
}

type classifiedError struct {
	kind syncclient.ErrorKind
	err  error
}

func (c *classifiedError) Error() string { return c.err.Error() }
func (c *classifiedError) Unwrap() error { return c.err }

func classifyTransportError(err error) error {
	return &classifiedError{kind: syncclient.KindTransient, err: fmt.Errorf("httpsync: transport: %w", err)}
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &classifiedError{kind: syncclient.KindAuth, err: fmt.Errorf("httpsync: status %d", status)}
	case status == http.StatusNotFound:
		return &classifiedError{kind: syncclient.KindNotFound, err: fmt.Errorf("httpsync: status %d", status)}
	case status == http.StatusTooManyRequests:
		return &classifiedError{kind: syncclient.KindRateLimited, err: fmt.Errorf("httpsync: status %d", status)}
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		return &classifiedError{kind: syncclient.KindPermanentData, err: fmt.Errorf("httpsync: status %d", status)}
	case status == http.StatusServiceUnavailable:
		return &classifiedError{kind: syncclient.KindDownstreamDown, err: fmt.Errorf("httpsync: status %d", status)}
	case status >= 500:
		return &classifiedError{kind: syncclient.KindTransient, err: fmt.Errorf("httpsync: status %d", status)}
	default:
		return &classifiedError{kind: syncclient.KindClassification, err: fmt.Errorf("httpsync: unexpected status %d", status)}
	}
}
