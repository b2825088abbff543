package backendgrpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pkt.systems/pslog"
	"pkt.systems/sessiondeck/schema"
)

// toStatus carries a backend error across the wire. The status message is the
// backend message verbatim; the code is recovered from the status code.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && !isBackendError(err) {
		return err
	}
	var backendErr *schema.BackendError
	if errors.As(err, &backendErr) {
		return status.Error(grpcCode(backendErr.Code), backendErr.Error())
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, schema.ErrInvalidRequest), errors.Is(err, schema.ErrInvalidCredentials):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, schema.ErrServerNotFound), errors.Is(err, schema.ErrSessionNotFound):
		return status.Error(codes.NotFound, err.Error())
	}
	return status.Error(codes.Unknown, err.Error())
}

func isBackendError(err error) bool {
	var backendErr *schema.BackendError
	return errors.As(err, &backendErr)
}

// wrapBackendError turns a gRPC failure back into a BackendError.
func wrapBackendError(err error) error {
	if err == nil {
		return nil
	}
	if isBackendError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return &schema.BackendError{Code: schema.BackendErrorUnknown, Message: err.Error(), Err: err}
	}
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	return &schema.BackendError{Code: backendCode(st.Code()), Message: st.Message(), Err: err}
}

func grpcCode(code schema.BackendErrorCode) codes.Code {
	switch code {
	case schema.BackendErrorConnection:
		return codes.Unavailable
	case schema.BackendErrorAuth:
		return codes.Unauthenticated
	case schema.BackendErrorNotFound:
		return codes.NotFound
	case schema.BackendErrorSession:
		return codes.Aborted
	case schema.BackendErrorInvalid:
		return codes.InvalidArgument
	default:
		return codes.Unknown
	}
}

func backendCode(code codes.Code) schema.BackendErrorCode {
	switch code {
	case codes.Unavailable:
		return schema.BackendErrorConnection
	case codes.Unauthenticated, codes.PermissionDenied:
		return schema.BackendErrorAuth
	case codes.NotFound:
		return schema.BackendErrorNotFound
	case codes.Aborted:
		return schema.BackendErrorSession
	case codes.InvalidArgument:
		return schema.BackendErrorInvalid
	default:
		return schema.BackendErrorUnknown
	}
}

func logGRPCError(log pslog.Logger, msg string, err error) {
	if log == nil || err == nil {
		return
	}
	if st, ok := status.FromError(err); ok {
		log.Warn(msg, "err", err, "code", st.Code().String(), "message", st.Message())
		return
	}
	log.Warn(msg, "err", err)
}
