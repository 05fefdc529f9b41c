package worker

import (
	"errors"
	"fmt"

	"github.com/cuongbtq/video2audio/internal/domain"
	"github.com/cuongbtq/video2audio/internal/objectstore"
	"github.com/cuongbtq/video2audio/internal/transcoder"
)

// Kind says what a processing fault means for the job
type Kind int

const (
	// KindUnknown is an unexpected fault. The job fails with UNKNOWN_ERROR.
	KindUnknown Kind = iota

	// KindTerminal cannot succeed without different input. The job fails now.
	KindTerminal

	// KindRetryable is expected to clear with time. The delivery is retried.
	KindRetryable
)

func (k Kind) String() string {
	switch k {
	case KindTerminal:
		return "terminal"
	case KindRetryable:
		return "retryable"
	default:
		return "unknown"
	}
}

// StageError ties a fault to the protocol step it happened in
type StageError struct {
	Code domain.ErrorCode
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// panicError carries a recovered panic out of the conversion
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// Classify maps a processing error onto its kind and the code to record
func Classify(err error) (Kind, domain.ErrorCode) {
	var pe *panicError
	if errors.As(err, &pe) {
		return KindUnknown, domain.ErrorCodeUnknown
	}

	var stage *StageError
	if !errors.As(err, &stage) {
		var convErr *transcoder.ConversionError
		if errors.As(err, &convErr) {
			return KindTerminal, convErr.Code
		}
		return KindUnknown, domain.ErrorCodeUnknown
	}

	switch {
	case errors.Is(err, objectstore.ErrUnavailable):
		return KindRetryable, stage.Code
	case errors.Is(err, objectstore.ErrNotFound),
		errors.Is(err, objectstore.ErrPermissionDenied),
		errors.Is(err, objectstore.ErrStorage):
		return KindTerminal, stage.Code
	case errors.Is(err, transcoder.ErrConversionFailed):
		return KindTerminal, stage.Code
	default:
		return KindUnknown, domain.ErrorCodeUnknown
	}
}
