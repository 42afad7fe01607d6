// Package progress defines the lifecycle events emitted by the crawl engine.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageRunInterrupted Stage = "RUN_INTERRUPTED"
	StageFetchStart     Stage = "FETCH_START"
	StageFetchDone      Stage = "FETCH_DONE"
	StageFetchFailed    Stage = "FETCH_FAILED"
	StageRetryScheduled Stage = "RETRY_SCHEDULED"
	StageDropped        Stage = "DROPPED"
	StagePolicyBlocked  Stage = "POLICY_BLOCKED"
	StageDone           Stage = "DONE"
	StageDoneWithError  Stage = "DONE_WITH_ERROR"
	StageRobotsFailOpen Stage = "ROBOTS_FAIL_OPEN"
)

// IsRunStage reports whether the stage describes the run rather than a request.
func (s Stage) IsRunStage() bool {
	switch s {
	case StageRunStart, StageRunDone, StageRunInterrupted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the stage closes a request's lifecycle.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageDone, StageDoneWithError, StageDropped, StagePolicyBlocked:
		return true
	default:
		return false
	}
}

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single step of crawl progress.
type Event struct {
	// RunID identifies the engine run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Site scopes request events to a host.
	Site string
	// URL is the request URL; it should not contain credentials.
	URL string
	// Label is the request's routing tag.
	Label string
	// Attempt is the number of fetch attempts made so far.
	Attempt int
	// StatusCode is the HTTP status of a fetch, zero when none arrived.
	StatusCode int
	// Bytes carries the response size for fetch completions.
	Bytes int64
	// Dur captures fetch latency, retry delay or run wall time depending on Stage.
	Dur time.Duration
	// Note carries low-volume context such as a drop reason or error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunInterrupted:
	case StageRobotsFailOpen:
		if e.Site == "" {
			return errors.New("robots fail-open requires site")
		}
	case StageFetchStart, StageFetchDone, StageFetchFailed, StageRetryScheduled,
		StageDropped, StagePolicyBlocked, StageDone, StageDoneWithError:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
