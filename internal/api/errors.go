package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/aigate-dev/aigate/internal/converter"
	log "github.com/aigate-dev/aigate/internal/logging"
	"github.com/aigate-dev/aigate/internal/upstream"
)

// badRequestError marks a caller mistake detected inside the pipeline
// (conversion failures, unusable provider selection) so writeError can tell
// it apart from upstream trouble.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func errorBody(message string) gin.H {
	return gin.H{"error": gin.H{"message": message}}
}

// writeError is the only place pipeline errors become HTTP responses.
// Upstream auth failures, exhausted retries, and unparseable upstream
// payloads all surface as 502 so callers can tell gateway-side rejections
// (4xx) from provider-side ones.
func writeError(c *gin.Context, err error) {
	status, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	} else {
		log.WithError(err).Debug("request rejected")
	}
	c.AbortWithStatusJSON(status, errorBody(message))
}

func classifyError(err error) (int, string) {
	var bad *badRequestError
	if errors.As(err, &bad) {
		return http.StatusBadRequest, bad.err.Error()
	}
	if errors.Is(err, upstream.ErrUnsupportedModel) || errors.Is(err, converter.ErrEmptyConversation) {
		return http.StatusBadRequest, err.Error()
	}

	var status *upstream.StatusError
	if errors.As(err, &status) {
		switch {
		case status.AuthFailure():
			return http.StatusBadGateway, "upstream authentication failed: " + upstreamMessage(status)
		case status.StatusCode == http.StatusTooManyRequests:
			return http.StatusBadGateway, "upstream rate limited: " + upstreamMessage(status)
		case status.StatusCode >= http.StatusInternalServerError:
			return http.StatusBadGateway, "upstream failure: " + upstreamMessage(status)
		default:
			// The upstream judged the request itself; relay its verdict.
			return http.StatusBadRequest, upstreamMessage(status)
		}
	}

	var transport *upstream.TransportError
	if errors.As(err, &transport) {
		return http.StatusBadGateway, "upstream unreachable: " + transport.Error()
	}
	var protocol *upstream.ProtocolError
	if errors.As(err, &protocol) {
		return http.StatusBadGateway, protocol.Error()
	}

	return http.StatusInternalServerError, "internal server error"
}

// upstreamMessage digs the human-readable message out of a provider error
// body, falling back to the raw summary when the shape is foreign.
func upstreamMessage(status *upstream.StatusError) string {
	for _, path := range []string{"error.message", "0.error.message", "message"} {
		if msg := gjson.GetBytes(status.Body, path).String(); msg != "" {
			return msg
		}
	}
	return status.Error()
}
