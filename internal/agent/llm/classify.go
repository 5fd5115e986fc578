package llm

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"

	"github.com/chattabot/agent/internal/agent/model"
	errx "github.com/chattabot/agent/internal/core/error"
	"google.golang.org/genai"
)

// Classify maps a model call failure to its Kind.
func Classify(err error) errx.Kind {
	if err == nil {
		return errx.KindNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errx.KindTimeout
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return kindForStatus(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return kindForStatus(apiErrPtr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errx.KindTimeout
	}
	var opErr *net.OpError
	var urlErr *url.Error
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &opErr), errors.As(err, &urlErr), errors.As(err, &dnsErr),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF):
		return errx.KindConnectivity
	}

	return kindForText(err.Error())
}

func kindForStatus(code int) errx.Kind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errx.KindAuth
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return errx.KindBadRequest
	case http.StatusTooManyRequests:
		return errx.KindRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return errx.KindTimeout
	default:
		return errx.KindAPI
	}
}

// kindForText catches provider errors that arrive flattened into a string.
func kindForText(msg string) errx.Kind {
	switch {
	case strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return errx.KindRateLimit
	case strings.Contains(msg, "UNAUTHENTICATED"), strings.Contains(msg, "PERMISSION_DENIED"):
		return errx.KindAuth
	case strings.Contains(msg, "INVALID_ARGUMENT"):
		return errx.KindBadRequest
	case strings.Contains(msg, "DEADLINE_EXCEEDED"):
		return errx.KindTimeout
	case strings.Contains(msg, "UNAVAILABLE"), strings.Contains(msg, "INTERNAL"):
		return errx.KindAPI
	default:
		return errx.KindOther
	}
}

// CannedMessage is the user-facing reply substituted for a failed call of the given kind.
func CannedMessage(kind errx.Kind) string {
	switch kind {
	case errx.KindTimeout:
		return model.TimeoutErrorMessage
	case errx.KindAuth, errx.KindBadRequest, errx.KindRateLimit, errx.KindConnectivity, errx.KindAPI:
		return model.APIErrorMessage
	default:
		return model.OtherErrorMessage
	}
}
