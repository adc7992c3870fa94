package api

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/lockbox/internal/common"
)

// ErrorResponse is a structured error from the remote service. Errors of
// this type are "protocol" errors: the server answered, it just said no.
// Anything else (transport failure, decode failure) is a plain error.
type ErrorResponse struct {
	StatusCode int
	Message    string
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Is maps protocol errors onto the shared taxonomy so callers can use
// errors.Is without knowing HTTP status codes.
func (e *ErrorResponse) Is(target error) bool {
	switch target {
	case common.ErrAuthenticationRejected:
		return e.StatusCode == 400 || e.StatusCode == 401
	case common.ErrNotFound:
		return e.StatusCode == 404
	case common.ErrRateLimited:
		return e.StatusCode == 429
	case common.ErrUnauthorized:
		return e.StatusCode == 401 || e.StatusCode == 403
	default:
		return false
	}
}

// IsProtocolError reports whether err originated as a structured server
// response. The auth orchestrator keeps its pending two-factor state on
// protocol errors (the user can retry the code) but discards it on
// anything unexpected.
func IsProtocolError(err error) bool {
	var er *ErrorResponse
	return errors.As(err, &er)
}
