package crawler

import "maps"

// State is a position in the per-request lifecycle.
type State string

// Request lifecycle states. DONE, DONE_WITH_ERROR and DROPPED are terminal.
const (
	StatePending        State = "PENDING"
	StateFetching       State = "FETCHING"
	StateExtracting     State = "EXTRACTING"
	StateParsing        State = "PARSING"
	StateDone           State = "DONE"
	StateDoneWithError  State = "DONE_WITH_ERROR"
	StateRetryScheduled State = "RETRY_SCHEDULED"
	StateDropped        State = "DROPPED"
)

// DropReason explains why a request ended in StateDropped or StateDoneWithError.
type DropReason string

// Terminal failure reasons recorded in Result.Failures.
const (
	ReasonRetriesExhausted DropReason = "retries_exhausted"
	ReasonPermanentError   DropReason = "permanent_error"
	ReasonRobotsDisallowed DropReason = "robots_disallowed"
	ReasonDomainDenied     DropReason = "domain_denied"
	ReasonDomainBlocked    DropReason = "domain_blocked"
	ReasonShutdown         DropReason = "shutdown"
	ReasonHookError        DropReason = "hook_error"
)

// IsPolicy reports whether the reason is a policy violation rather than a failure.
func (r DropReason) IsPolicy() bool {
	switch r {
	case ReasonRobotsDisallowed, ReasonDomainDenied, ReasonDomainBlocked:
		return true
	default:
		return false
	}
}

// Request is one unit of crawl work. The engine hands the same *Request back
// to the frontier on retry, so Metadata written by the caller survives every
// attempt.
type Request struct {
	// URL is the normalized absolute URL.
	URL string
	// Label is an opaque tag routed unchanged to the hooks.
	Label string
	// Attempt counts fetch attempts already made.
	Attempt int
	// Metadata is caller-owned context carried across retries.
	Metadata map[string]any

	state State
}

// NewRequest builds a pending request for rawURL. The URL is normalized and
// the metadata map is copied so later caller mutations do not leak in.
func NewRequest(rawURL, label string, metadata map[string]any) (*Request, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	md := make(map[string]any, len(metadata))
	maps.Copy(md, metadata)
	return &Request{
		URL:      normalized,
		Label:    label,
		Metadata: md,
		state:    StatePending,
	}, nil
}

// State returns the last lifecycle state the engine recorded for the request.
func (r *Request) State() State {
	return r.state
}

// Get returns a metadata value by key.
func (r *Request) Get(key string) (any, bool) {
	if r == nil || r.Metadata == nil {
		return nil, false
	}
	v, ok := r.Metadata[key]
	return v, ok
}
