package model

import (
	"context"
	"errors"
	"net"
)

// TimeoutError reports a delegate call that exceeded its deadline.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return e.Op + ": timed out: " + e.Err.Error()
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// MalformedResponseError reports a candle payload of an unrecognized shape.
type MalformedResponseError struct {
	Detail string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return "malformed response: " + e.Detail + ": " + e.Err.Error()
	}
	return "malformed response: " + e.Detail
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// AsTimeout wraps deadline overruns in *TimeoutError and returns every other
// error unchanged.
func AsTimeout(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{Op: op, Err: err}
	}
	return err
}
