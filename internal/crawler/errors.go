package crawler

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned when Run is called more than once on an Engine.
var ErrAlreadyRunning = errors.New("engine already ran")

// Hook names used in HookError.
const (
	HookInit         = "init"
	HookExtractLinks = "extract_links"
	HookParsePage    = "parse_page"
)

// HookError wraps an error returned, or a panic raised, by a user hook.
type HookError struct {
	Hook  string
	URL   string
	Label string
	Err   error
}

func (e *HookError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s hook: %v", e.Hook, e.Err)
	}
	return fmt.Sprintf("%s hook for %s: %v", e.Hook, e.URL, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
