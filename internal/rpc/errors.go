package rpc

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"hdds/internal/scm"
)

var codeOf = []struct {
	err  error
	code codes.Code
}{
	{scm.ErrUnregisteredNode, codes.NotFound},
	{scm.ErrIncompatibleLayout, codes.FailedPrecondition},
	{scm.ErrTimeout, codes.DeadlineExceeded},
	{scm.ErrInvalidIdentity, codes.InvalidArgument},
	{scm.ErrIdentityConflict, codes.AlreadyExists},
	{scm.ErrQueueFull, codes.ResourceExhausted},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
	{context.Canceled, codes.Canceled},
}

// toStatus converts a manager error into a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, m := range codeOf {
		if errors.Is(err, m.err) {
			return status.Error(m.code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

// remoteError is a manager error received over the wire. It matches the
// same sentinel with errors.Is.
type remoteError struct {
	kind error
	msg  string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.kind }

// fromStatus turns a status error back into the sentinel it was made from.
// Transport errors are returned unchanged.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var kind error
	switch st.Code() {
	case codes.NotFound:
		kind = scm.ErrUnregisteredNode
	case codes.FailedPrecondition:
		kind = scm.ErrIncompatibleLayout
	case codes.DeadlineExceeded:
		kind = scm.ErrTimeout
	case codes.InvalidArgument:
		kind = scm.ErrInvalidIdentity
	case codes.AlreadyExists:
		kind = scm.ErrIdentityConflict
	case codes.ResourceExhausted:
		kind = scm.ErrQueueFull
	default:
		return err
	}
	return &remoteError{kind: kind, msg: st.Message()}
}
