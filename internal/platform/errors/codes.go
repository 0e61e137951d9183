// Package errors provides structured error handling for nodes and the coordinator.
package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Caller errors
	CodeBadRequest   Code = "BAD_REQUEST"
	CodeUnauthorized Code = "UNAUTHORIZED"

	// State machine errors
	CodeNotFound           Code = "NOT_FOUND"
	CodePreconditionFailed Code = "PRECONDITION_FAILED"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"

	// Agreement errors
	CodeConsistencyViolation Code = "CONSISTENCY_VIOLATION"
	CodeProofRejected        Code = "PROOF_REJECTED"

	// Transport and storage errors
	CodeRemoteError   Code = "REMOTE_ERROR"
	CodeStoreError    Code = "STORE_ERROR"
	CodeMailboxClosed Code = "MAILBOX_CLOSED"
	CodeInternal      Code = "INTERNAL"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeBadRequest:
		return codes.InvalidArgument
	case CodeUnauthorized:
		return codes.Unauthenticated
	case CodeNotFound:
		return codes.NotFound
	case CodePreconditionFailed, CodeInvalidTransition:
		return codes.FailedPrecondition
	case CodeMailboxClosed, CodeRemoteError:
		return codes.Unavailable
	case CodeConsistencyViolation, CodeProofRejected:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

// HTTPStatus maps domain codes to the status returned by the coordinator API.
// Only malformed input and authentication are caller errors; every protocol
// failure is a server error.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRemoteError, CodeMailboxClosed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// codeFromGRPC is the reverse of GRPCCode for statuses without ErrorInfo.
func codeFromGRPC(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return CodeBadRequest
	case codes.Unauthenticated:
		return CodeUnauthorized
	case codes.NotFound:
		return CodeNotFound
	case codes.FailedPrecondition:
		return CodePreconditionFailed
	case codes.Unavailable:
		return CodeRemoteError
	case codes.Aborted:
		return CodeConsistencyViolation
	case codes.Internal:
		return CodeInternal
	default:
		return CodeUnknown
	}
}
