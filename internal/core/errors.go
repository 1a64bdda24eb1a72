package core

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCategory is the user-facing class of a failed completion.
type ErrorCategory int

const (
	CategoryUnknown ErrorCategory = iota
	CategoryNoCredential
	CategoryOffline
	CategoryInvalidCredential
	CategoryRateLimited
	CategoryMalformedRequest
	CategoryServiceUnavailable
	CategoryNetwork
)

var categoryMessages = map[ErrorCategory]string{
	CategoryNoCredential:       "Please enter your Google Gemini API key in the settings to begin.",
	CategoryOffline:            "You appear to be offline. Please check your internet connection.",
	CategoryInvalidCredential:  "The provided API key is invalid. Please check the key in the settings and try again.",
	CategoryRateLimited:        "The AI is currently busy due to high traffic. Please wait a moment before trying again.",
	CategoryMalformedRequest:   "The request was invalid. This can happen due to a safety policy violation or an unsupported prompt. Please try rephrasing your message.",
	CategoryServiceUnavailable: "The AI service is experiencing a temporary issue. Please try again in a few moments.",
	CategoryNetwork:            "A network error occurred, preventing the request from completing. Please check your internet connection and try again.",
	CategoryUnknown:            "An unexpected error occurred. Please check the server logs for more details and try again later.",
}

var categoryNames = map[ErrorCategory]string{
	CategoryUnknown:            "unknown",
	CategoryNoCredential:       "no-credential",
	CategoryOffline:            "offline",
	CategoryInvalidCredential:  "invalid-credential",
	CategoryRateLimited:        "rate-limited",
	CategoryMalformedRequest:   "malformed-request",
	CategoryServiceUnavailable: "service-unavailable",
	CategoryNetwork:            "network-unreachable",
}

func (c ErrorCategory) String() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return categoryNames[CategoryUnknown]
}

// Message is the fixed human-readable text for the category.
func (c ErrorCategory) Message() string {
	if m, ok := categoryMessages[c]; ok {
		return m
	}
	return categoryMessages[CategoryUnknown]
}

// ClassifyError maps a completion failure to exactly one category. Checks run
// in priority order and the first match wins; being offline overrides
// anything the error itself says.
func ClassifyError(err error, online bool) ErrorCategory {
	if !online {
		return CategoryOffline
	}
	if err == nil {
		return CategoryUnknown
	}

	httpCode, grpcCode := errorCodes(err)
	text := strings.ToLower(err.Error())
	// status numbers in the text only count when the error carries no code
	mentions := func(status string) bool {
		return httpCode <= 0 && grpcCode == codes.OK && statusNumbers[status].MatchString(text)
	}

	switch {
	case strings.Contains(text, "api key not valid"), strings.Contains(text, "api_key_invalid"),
		httpCode == http.StatusUnauthorized, httpCode == http.StatusForbidden,
		grpcCode == codes.Unauthenticated, grpcCode == codes.PermissionDenied:
		return CategoryInvalidCredential

	case httpCode == http.StatusTooManyRequests, grpcCode == codes.ResourceExhausted,
		strings.Contains(text, "rate limit"), mentions("429"):
		return CategoryRateLimited

	case isBlocked(err), httpCode == http.StatusBadRequest,
		grpcCode == codes.InvalidArgument, grpcCode == codes.FailedPrecondition,
		mentions("400"):
		return CategoryMalformedRequest

	case httpCode >= 500, grpcCode == codes.Unavailable, grpcCode == codes.Internal,
		mentions("500"), mentions("503"), strings.Contains(text, "internal"):
		return CategoryServiceUnavailable

	case isNetworkError(err), strings.Contains(text, "fetch"), strings.Contains(text, "network"):
		return CategoryNetwork
	}
	return CategoryUnknown
}

var statusNumbers = map[string]*regexp.Regexp{
	"400": regexp.MustCompile(`\b400\b`),
	"429": regexp.MustCompile(`\b429\b`),
	"500": regexp.MustCompile(`\b500\b`),
	"503": regexp.MustCompile(`\b503\b`),
}

// errorCodes extracts the HTTP and gRPC codes carried by err, if any.
func errorCodes(err error) (int, codes.Code) {
	httpCode := 0
	grpcCode := codes.OK

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		httpCode = apiErr.HTTPCode()
		if st := apiErr.GRPCStatus(); st != nil {
			grpcCode = st.Code()
		}
	}
	var gErr *googleapi.Error
	if httpCode <= 0 && errors.As(err, &gErr) {
		httpCode = gErr.Code
	}
	if grpcCode == codes.OK {
		if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
			grpcCode = st.Code()
		}
	}
	return httpCode, grpcCode
}

func isBlocked(err error) bool {
	var blocked *genai.BlockedError
	return errors.As(err, &blocked)
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
