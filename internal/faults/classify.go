// Package faults maps component errors onto the retry taxonomy shared by
// the verification and deployment workflows. Leaf packages return typed
// errors; activities classify them here so Temporal's retry policy can
// tell transient network failures from logic errors that retrying cannot
// fix.
package faults

import (
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/akash-network/provider-console-api/internal/chain"
	"github.com/akash-network/provider-console-api/internal/pricing"
	"github.com/akash-network/provider-console-api/internal/remote"
)

// Error kinds surfaced in reports and used as Temporal application error
// types. NonRetryable lists every kind bounded retry cannot fix.
const (
	KindConnection       = "ConnectionError"
	KindExecutionTimeout = "ExecutionTimeout"
	KindCommandFailed    = "CommandFailed"
	KindUpstream         = "UpstreamUnavailable"
	KindInvalidResponse  = "InvalidResponse"
	KindArtifactNotFound = "ArtifactNotFound"
	KindIntegrity        = "IntegrityError"
	KindParse            = "ParseError"
	KindInternal         = "InternalError"
)

// NonRetryable error kinds: connection and command failures are surfaced
// verbatim per the error-handling contract, and artifact/parse errors
// can only reproduce themselves on retry.
func NonRetryable() []string {
	return []string{
		KindConnection,
		KindCommandFailed,
		KindInvalidResponse,
		KindArtifactNotFound,
		KindIntegrity,
		KindParse,
	}
}

// Kind resolves the taxonomy kind for err, unwrapping Temporal
// application errors produced by Classify on the activity side.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return appErr.Type()
	}

	switch {
	case errorsAs[*remote.ConnectionError](err):
		return KindConnection
	case errorsAs[*remote.ExecutionTimeout](err):
		return KindExecutionTimeout
	case errorsAs[*remote.CommandFailed](err):
		return KindCommandFailed
	case errorsAs[*chain.UpstreamUnavailable](err):
		return KindUpstream
	case errorsAs[*chain.InvalidResponse](err):
		return KindInvalidResponse
	case errorsAs[*pricing.ArtifactNotFound](err):
		return KindArtifactNotFound
	case errorsAs[*pricing.IntegrityError](err):
		return KindIntegrity
	case errorsAs[*pricing.ParseError](err):
		return KindParse
	default:
		return KindInternal
	}
}

// Transient reports whether bounded retry with backoff may fix err.
func Transient(err error) bool {
	switch Kind(err) {
	case KindExecutionTimeout, KindUpstream:
		return true
	default:
		return false
	}
}

// Classify wraps a leaf error as a Temporal application error carrying
// the taxonomy kind, marking it non-retryable when retry cannot help.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	kind := Kind(err)
	if Transient(err) {
		return temporal.NewApplicationErrorWithCause(err.Error(), kind, err)
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), kind, err)
}

func errorsAs[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
