package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	apperrors "github.com/secretdoor/montyhall/internal/platform/errors"
	"github.com/secretdoor/montyhall/internal/services/coordinator/party"
)

// fanOut calls every party concurrently and waits for all of them.
func fanOut[T any](ctx context.Context, parties [Parties]Party, call func(context.Context, Party) (T, error)) ([Parties]T, []error) {
	var (
		wg      sync.WaitGroup
		results [Parties]T
		errs    [Parties]error
	)
	for i, p := range parties {
		wg.Go(func() {
			results[i], errs[i] = call(ctx, p)
		})
	}
	wg.Wait()
	return results, errs[:]
}

// stepError folds per-party failures into one domain error. A rejection every
// failing party agrees on (for example calling init before sample) keeps its
// code; anything else is a remote failure.
func stepError(op string, errs []error) error {
	var (
		merged *multierror.Error
		codes  = map[apperrors.Code]int{}
		first  *apperrors.Error
	)
	for i, err := range errs {
		if err == nil {
			continue
		}
		merged = multierror.Append(merged, fmt.Errorf("party %d: %w", i, err))
		code := partyErrorCode(err)
		codes[code]++
		if first == nil {
			first = apperrors.FromGRPCStatus(err)
		}
	}
	if merged == nil {
		return nil
	}
	if len(codes) == 1 {
		for code := range codes {
			switch code {
			case apperrors.CodeBadRequest, apperrors.CodePreconditionFailed, apperrors.CodeInvalidTransition:
				return &apperrors.Error{Code: code, Message: first.Message, Metadata: first.Metadata, Cause: merged.ErrorOrNil()}
			case apperrors.CodeMailboxClosed:
				return apperrors.Wrap(code, op+": party connection closed", merged.ErrorOrNil())
			}
		}
	}
	return apperrors.Wrap(apperrors.CodeRemoteError, op+": party step failed", merged.ErrorOrNil())
}

func partyErrorCode(err error) apperrors.Code {
	var remote *party.RemoteError
	switch {
	case errors.Is(err, party.ErrMailboxClosed):
		return apperrors.CodeMailboxClosed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.CodeRemoteError
	case errors.As(err, &remote):
		return apperrors.FromGRPCStatus(remote.Err).Code
	default:
		return apperrors.CodeRemoteError
	}
}

// agree checks that every party produced the same bytes for field.
func agree(field string, values [Parties][]byte) error {
	for i := 1; i < Parties; i++ {
		if !bytes.Equal(values[0], values[i]) {
			return apperrors.WithMetadata(apperrors.CodeConsistencyViolation,
				fmt.Sprintf("parties disagree on %s", field),
				map[string]string{"field": field, "party": fmt.Sprint(i)})
		}
	}
	return nil
}
