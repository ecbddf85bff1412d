package remote

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// #region kind

// Kind separates failures of the link from failures reported by the service.
type Kind int

const (
	// KindApplication is an error the service returned on purpose.
	KindApplication Kind = iota
	// KindTransport is an unreachable service or a malformed/aborted response.
	KindTransport
)

func (k Kind) String() string {
	if k == KindTransport {
		return "transport"
	}
	return "application"
}

// #endregion kind

// #region error

// Error is returned by every Client call that fails.
type Error struct {
	Op   string
	Kind Kind
	Code codes.Code
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s rpc (%s, %s): %v", e.Op, e.Kind, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransport reports whether err carries a transport-class remote.Error.
func IsTransport(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindTransport
}

// #endregion error

// #region classify

// classify tags a gRPC error. Internal is transport only when grpc itself
// raised it (codec failures on a truncated or garbled frame); a handler that
// returns Internal is an application failure.
func classify(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &Error{Op: op, Kind: KindTransport, Code: codes.Unknown, Err: err}
	}
	kind := KindApplication
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.DataLoss:
		kind = KindTransport
	case codes.Internal:
		if strings.HasPrefix(st.Message(), "grpc: ") {
			kind = KindTransport
		}
	}
	return &Error{Op: op, Kind: kind, Code: st.Code(), Err: err}
}

// malformed tags a response the client could not decode.
func malformed(op string, err error) error {
	return &Error{Op: op, Kind: KindTransport, Code: codes.DataLoss, Err: fmt.Errorf("malformed response: %w", err)}
}

// #endregion classify
