package rpc

import (
	"errors"
	"testing"

	"github.com/klingon-exchange/threshold-node/internal/corerr"
)

func TestRPCErrorCodeMapsEveryCorerrKind(t *testing.T) {
	cases := []struct {
		kind corerr.Kind
		code int
	}{
		{corerr.KindInvalid, InvalidParams},
		{corerr.KindUnauthorized, codeUnauthorized},
		{corerr.KindInsufficientFunds, codeInsufficientFunds},
		{corerr.KindProtocolViolation, codeProtocolViolation},
		{corerr.KindSessionAborted, codeSessionAborted},
		{corerr.KindOracleUnavailable, codeOracleUnavailable},
		{corerr.KindStoreError, codeStoreError},
		{corerr.KindBusy, codeBusy},
	}
	for _, c := range cases {
		err := corerr.New(c.kind, "rpc_test", errors.New("boom"))
		if got := rpcErrorCode(err); got != c.code {
			t.Fatalf("kind %s: got code %d, want %d", c.kind, got, c.code)
		}
	}
}

func TestRPCErrorCodeFallsBackToInternalError(t *testing.T) {
	if got := rpcErrorCode(errors.New("plain error")); got != InternalError {
		t.Fatalf("got code %d, want InternalError", got)
	}
}

func TestRPCErrorCodeUnwrapsWrappedCorerrError(t *testing.T) {
	inner := corerr.New(corerr.KindUnauthorized, "rpc_test", errors.New("bad sig"))
	wrapped := errorfWrap(inner)
	if got := rpcErrorCode(wrapped); got != codeUnauthorized {
		t.Fatalf("got code %d, want codeUnauthorized", got)
	}
}

// errorfWrap wraps err one layer deep in a type with an Unwrap method,
// the same one-link chain fmt.Errorf's %w builds when a handler
// composes a corerr.Error into a higher-level message.
func errorfWrap(err error) error {
	return &wrappedErr{err}
}

type wrappedErr struct{ err error }

func (w *wrappedErr) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrappedErr) Unwrap() error { return w.err }
