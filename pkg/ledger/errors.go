package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a ledger operation failure. The first five mirror the
// contract's own error kinds; DependencyFailure covers transport and
// deadline failures where the contract never ran (or its outcome is
// unknown).
type Kind string

const (
	KindNotAuthorized     Kind = "NOT_AUTHORIZED"
	KindNotFound          Kind = "NOT_FOUND"
	KindInvalidState      Kind = "INVALID_STATE"
	KindInvalidArgument   Kind = "INVALID_ARGUMENT"
	KindConflict          Kind = "CONFLICT"
	KindDependencyFailure Kind = "DEPENDENCY_FAILURE"
	KindInternal          Kind = "INTERNAL"
)

// Error is a classified ledger failure.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying transport or contract error.
func (e *Error) Unwrap() error { return e.cause }

// contractKinds are the kinds the contract encodes as message prefixes.
var contractKinds = []Kind{
	KindNotAuthorized,
	KindNotFound,
	KindInvalidState,
	KindInvalidArgument,
	KindConflict,
}

// classify turns a raw fabric-gateway error into a *Error. Chaincode
// failures surface as gRPC status details whose messages carry the
// contract's "KIND: reason" prefix; everything else is a transport
// problem.
func classify(err error) *Error {
	if err == nil {
		return nil
	}

	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr
	}

	// Deadline and cancellation map to dependency failure: the
	// configured ceiling fired before the platform answered.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindDependencyFailure, Message: "ledger call exceeded its deadline", cause: err}
	}

	// Walk the message (including endorsement detail text) for a
	// contract kind prefix.
	msg := err.Error()
	if st, ok := status.FromError(err); ok {
		for _, d := range st.Proto().GetDetails() {
			msg += " " + string(d.GetValue())
		}
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded:
			if k, m, found := findContractKind(msg); found {
				return &Error{Kind: k, Message: m, cause: err}
			}
			return &Error{Kind: KindDependencyFailure, Message: st.Message(), cause: err}
		}
	}

	if k, m, found := findContractKind(msg); found {
		return &Error{Kind: k, Message: m, cause: err}
	}

	return &Error{Kind: KindDependencyFailure, Message: msg, cause: err}
}

// findContractKind scans a flattened error message for the contract's
// kind prefix and returns the kind plus the trailing human reason.
func findContractKind(msg string) (Kind, string, bool) {
	for _, kind := range contractKinds {
		marker := string(kind) + ": "
		if idx := strings.Index(msg, marker); idx >= 0 {
			reason := strings.TrimSpace(msg[idx+len(marker):])
			if reason == "" {
				reason = strings.ToLower(strings.ReplaceAll(string(kind), "_", " "))
			}
			return kind, reason, true
		}
	}
	return "", "", false
}

// AsError extracts the classified form of any error coming out of this
// package, classifying on the fly if needed.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	return classify(err)
}
