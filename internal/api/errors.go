package api

import (
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/teleops-rca/internal/utils"
)

var kindCodes = map[utils.ErrorKind]codes.Code{
	utils.KindValidation: codes.InvalidArgument,
	utils.KindUpstream:   codes.Unavailable,
	utils.KindConflict:   codes.AlreadyExists,
	utils.KindNotFound:   codes.NotFound,
	utils.KindInternal:   codes.Internal,
}

// toStatus converts a domain error into a gRPC status. The kind prefixes the message
// so callers can recover it from the text alone.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	kind := utils.KindOf(err)
	code, ok := kindCodes[kind]
	if !ok {
		code = codes.Internal
	}
	msg := err.Error()
	var appErr *utils.AppError
	if errors.As(err, &appErr) && kind != utils.KindInternal {
		msg = appErr.Msg
	}
	if kind == utils.KindInternal {
		msg = "internal error"
	}
	return status.Error(code, string(kind)+": "+msg)
}

// FromStatus turns a gRPC error from the client back into a classified AppError.
func FromStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return utils.UpstreamError(op, "call failed", err)
	}
	kind := utils.KindInternal
	for k, c := range kindCodes {
		if c == st.Code() {
			kind = k
			break
		}
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		kind = utils.KindValidation
	case codes.DeadlineExceeded:
		kind = utils.KindUpstream
	}
	msg := strings.TrimPrefix(st.Message(), string(kind)+": ")
	return utils.NewKindError(kind, op, msg, nil)
}
