// Package transcoder converts a local video file into an audio file.
package transcoder

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuongbtq/video2audio/internal/domain"
)

// ErrConversionFailed is matched by every *ConversionError
var ErrConversionFailed = errors.New("conversion failed")

// Transcoder converts inputPath into outputPath synchronously
type Transcoder interface {
	Convert(ctx context.Context, inputPath, outputPath string) error
}

// ConversionError reports a failed conversion with the job error code it maps to
type ConversionError struct {
	Code     domain.ErrorCode
	Detail   string
	ExitCode int
	Err      error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("%s (exit code %d)", e.Code, e.ExitCode)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConversionError) Is(target error) bool {
	return target == ErrConversionFailed
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}
