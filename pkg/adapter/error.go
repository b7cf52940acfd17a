package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ModelError reports a failed model call: transport failure, timeout, or a
// response with no usable content.
type ModelError struct {
	Adapter   string
	Status    int
	Temporary bool
	Message   string
	Err       error
}

func (e *ModelError) Error() string {
	if e == nil {
		return "model error"
	}
	prefix := "model error"
	if e.Adapter != "" {
		prefix = e.Adapter + " model error"
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	return fmt.Sprintf("%s (status=%d)", prefix, e.Status)
}

func (e *ModelError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsModelError reports whether err is, or wraps, a *ModelError.
func IsModelError(err error) bool {
	var modelErr *ModelError
	return errors.As(err, &modelErr)
}

// IsTransient reports whether a model error is likely to clear on its own.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var modelErr *ModelError
	if errors.As(err, &modelErr) {
		if modelErr.Temporary {
			return true
		}
		if modelErr.Status == 429 || (modelErr.Status >= 500 && modelErr.Status <= 599) {
			return true
		}
	}
	return false
}

func callError(adapterName, message string, status int, err error) *ModelError {
	return &ModelError{
		Adapter:   adapterName,
		Status:    status,
		Temporary: status == 429 || status >= 500,
		Message:   message,
		Err:       err,
	}
}

func emptyResponse(adapterName, message string) *ModelError {
	return &ModelError{Adapter: adapterName, Message: message}
}
