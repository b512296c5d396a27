package engineclient

import (
	"fmt"
	"io"

	"github.com/cuemby/engineeye/pkg/enginerr"
	"github.com/cuemby/engineeye/pkg/transport"
)

// statusToKind maps an engine HTTP status code to the error taxonomy, per
// the documented engine contract: 404 means the container or endpoint
// doesn't exist, 409 a state conflict (e.g. removing a running container
// without force), 5xx an engine-side failure worth retrying.
func statusToKind(code int) enginerr.Kind {
	switch {
	case code == 404:
		return enginerr.NotFound
	case code == 409:
		return enginerr.Conflict
	case code == 401 || code == 403:
		return enginerr.Unauthorized
	case code >= 500:
		return enginerr.ServerError
	case code >= 400:
		return enginerr.ProtocolError
	default:
		return ""
	}
}

// checkStatus returns nil when resp's status code is one the caller names
// as ok, leaving the body unread. Otherwise it reads at most 4096 bytes of
// the body (bounded, so a broken engine can't exhaust memory via an
// oversized error message) into a typed error.
func checkStatus(resp *transport.Response, ok ...int) error {
	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}

	kind := statusToKind(resp.StatusCode)
	if kind == "" {
		kind = enginerr.ProtocolError
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return enginerr.New(kind, fmt.Sprintf("engine returned %d: %s", resp.StatusCode, string(body)))
}
