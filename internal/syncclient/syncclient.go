// Package syncclient defines the external contracts this module depends
// on but does not implement: the downstream media-server client, the
// upstream scene lookup, and the error-classification taxonomy that the
// sync worker and DLQ recovery pipeline dispatch on. Concrete adapters
// (such as internal/httpsync) implement these interfaces and are wired
// in at startup.
package syncclient

import (
	"context"
	"time"
)

// ErrorKind is a closed taxonomy. SW and the DLQ recovery pipeline
// dispatch on this variant rather than on a catch-all error
// check, per the "exceptions for control flow" redesign note.
type ErrorKind string

const (
	// KindTransient covers network timeouts, connection resets, and
	// 5xx-class responses. Retryable; counts toward CB failure.
	KindTransient ErrorKind = "transient"
	// KindDownstreamDown is an explicit unavailability signal (503,
	// connection refused). Retryable; counts toward CB; default member
	// of the DLQ-recovery allow-list.
	KindDownstreamDown ErrorKind = "downstream-down"
	// KindRateLimited means downstream asked us to slow down. Retryable;
	// does NOT count toward CB (not a health signal); RL observes it.
	KindRateLimited ErrorKind = "rate-limited"
	// KindNotFound means the upstream record has no downstream
	// counterpart yet. Whether this is retryable is caller policy —
	// see NotFoundPolicy.
	KindNotFound ErrorKind = "not-found"
	// KindAuth covers invalid credentials or forbidden access. Permanent;
	// goes straight to DLQ.
	KindAuth ErrorKind = "auth"
	// KindPermanentData covers malformed payloads and schema violations.
	// Permanent; goes straight to DLQ.
	KindPermanentData ErrorKind = "permanent-data"
	// KindClassification marks a local bug or unexpected exception. The
	// sync worker retries it like a transient failure, with no retry cap,
	// and it never counts toward CB.
	KindClassification ErrorKind = "classification-error"
)

// CountsTowardCircuitBreaker reports whether a failure of this kind
// should increment the circuit breaker's failure_count (only transient
// and downstream-down kinds increment; classification
// errors do not count toward opening") and §7 ("rate-limited ... does
// not count toward CB").
func (k ErrorKind) CountsTowardCircuitBreaker() bool {
	switch k {
	case KindTransient, KindDownstreamDown:
		return true
	default:
		return false
	}
}

// IsPermanent reports whether a failure of this kind should be written
// straight to the dead-letter store after one attempt rather than
// retried.
func (k ErrorKind) IsPermanent() bool {
	switch k {
	case KindAuth, KindPermanentData:
		return true
	default:
		return false
	}
}

// NotFoundPolicy lets each downstream integration declare, at
// construction time, whether a not-found
// classification should be retried (e.g. eventual creation expected) or
// treated as permanent.
type NotFoundPolicy string

const (
	NotFoundRetry     NotFoundPolicy = "retry"
	NotFoundPermanent NotFoundPolicy = "permanent"
)

// NotFoundAwareKind bundles an ErrorKind with the resolved not-found
// policy, computed once by a Classifier and consumed by the sync worker
// without any further policy branching.
type NotFoundAwareKind struct {
	ErrorKind ErrorKind
	// Permanent is only meaningful when ErrorKind == KindNotFound; for
	// all other kinds, ErrorKind.IsPermanent() is authoritative.
	Permanent bool
}

// Resolved reports whether this classification should be treated as a
// permanent failure (straight to DLQ) as opposed to a retryable one.
func (k NotFoundAwareKind) Resolved() bool {
	if k.ErrorKind == KindNotFound {
		return k.Permanent
	}
	return k.ErrorKind.IsPermanent()
}

// Classifier turns a raw error returned by a Client call into a
// NotFoundAwareKind, applying the integration's declared NotFoundPolicy.
type Classifier struct {
	NotFound NotFoundPolicy
	// Classify is the integration-specific mapping from a raw error to
	// an ErrorKind (network timeout -> transient, 503 -> downstream-down,
	// etc). It must never be nil.
	Classify func(err error) ErrorKind
}

// New constructs a Classifier. notFound declares this integration's
// policy for the not-found kind; classify performs the raw
// error-to-kind mapping.
func New(notFound NotFoundPolicy, classify func(err error) ErrorKind) *Classifier {
	return &Classifier{NotFound: notFound, Classify: classify}
}

// Kind classifies err into a NotFoundAwareKind using this Classifier's
// policy.
func (c *Classifier) Kind(err error) NotFoundAwareKind {
	if c == nil || c.Classify == nil || err == nil {
		return NotFoundAwareKind{ErrorKind: KindClassification}
	}
	k := c.Classify(err)
	if k == KindNotFound {
		return NotFoundAwareKind{ErrorKind: k, Permanent: c.NotFound == NotFoundPermanent}
	}
	return NotFoundAwareKind{ErrorKind: k}
}

// ScenePayload is the opaque data the downstream sync call accepts. Its
// shape is owned by the concrete integration; this module only moves it
// around.
type ScenePayload map[string]any

// Client is the downstream collaborator contract. Implementations
// wrap a concrete transport; SW
// depends only on this narrow interface.
type Client interface {
	// Sync performs one sync operation against the downstream system. A
	// non-nil error must be classifiable via the integration's Classifier.
	Sync(ctx context.Context, payload ScenePayload) error
}

// Prober is the deep-health-check contract the health probe depends on,
// separate from Client so a probe call can be issued without going
// through the full sync path.
type Prober interface {
	// Probe issues a request that exercises downstream's data path (not
	// merely a transport-layer liveness check) and returns whether it
	// responded healthily within timeout.
	Probe(ctx context.Context, timeout time.Duration) error
}

// SceneLookup is the upstream collaborator contract. DLQ recovery's
// existence gate depends on it.
type SceneLookup interface {
	// FindScene returns (true, nil) if sceneID still exists upstream,
	// (false, nil) if it is confirmed gone, or a non-nil error if the
	// lookup itself failed.
	FindScene(ctx context.Context, sceneID string) (bool, error)
}
