// Package fault defines the error conditions shared across switchboard
// packages. Packages wrap these sentinels with their own prefix and callers
// classify failures with errors.Is.
package fault

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound reports an unknown agent, thread, recommendation or entry.
	ErrNotFound = errors.New("not found")
	// ErrBusy reports that an agent run is already in progress.
	ErrBusy = errors.New("busy")
	// ErrUpstream reports a failed reasoning-service or integration call.
	ErrUpstream = errors.New("upstream failure")
	// ErrToolExecution reports a failed tool call inside the chat loop.
	ErrToolExecution = errors.New("tool execution failure")
	// ErrRoundLimit reports that a chat turn hit the tool round limit.
	ErrRoundLimit = errors.New("round limit exceeded")
	// ErrPersistence reports a failed store write.
	ErrPersistence = errors.New("persistence failure")
	// ErrInvalidTransition reports a rejected recommendation status change.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvalidArgument reports malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBusy), errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
