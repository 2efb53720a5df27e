package sunsetclient

import (
	"errors"
	"fmt"
)

// Kind classifies why a sunset lookup failed. Every kind is recoverable by
// trying again later.
type Kind int

const (
	KindNetwork Kind = iota + 1
	KindBadStatus
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindBadStatus:
		return "bad status"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Sentinels matched by FetchError.Is so callers can write errors.Is(err, ErrDecode).
var (
	ErrNetwork   = errors.New("time service unreachable")
	ErrBadStatus = errors.New("time service returned an error status")
	ErrDecode    = errors.New("time service response could not be decoded")
)

// FetchError is the only error type returned by FetchSunset.
type FetchError struct {
	Kind Kind
	// Code is the HTTP status for KindBadStatus.
	Code int
	Err  error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == KindBadStatus && e.Err != nil:
		return fmt.Sprintf("sunset lookup failed (%s %d): %v", e.Kind, e.Code, e.Err)
	case e.Kind == KindBadStatus:
		return fmt.Sprintf("sunset lookup failed (%s %d)", e.Kind, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("sunset lookup failed (%s): %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("sunset lookup failed (%s)", e.Kind)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrBadStatus:
		return e.Kind == KindBadStatus
	case ErrDecode:
		return e.Kind == KindDecode
	}
	return false
}

func networkError(err error) *FetchError {
	return &FetchError{Kind: KindNetwork, Err: err}
}

func decodeError(format string, args ...any) *FetchError {
	return &FetchError{Kind: KindDecode, Err: fmt.Errorf(format, args...)}
}
