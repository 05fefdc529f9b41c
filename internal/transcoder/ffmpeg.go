package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cuongbtq/video2audio/internal/domain"
)

// stderrTail bounds how much tool output is kept on a ConversionError
const stderrTail = 512

// Config holds ffmpeg invocation settings
type Config struct {
	FFmpegPath string
	Timeout    time.Duration
	AudioCodec string
	Bitrate    string
}

type commandResult struct {
	Stderr   string
	ExitCode int
}

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec
type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// FFmpeg converts with an ffmpeg binary. Every invocation is bounded by Timeout.
type FFmpeg struct {
	path    string
	timeout time.Duration
	codec   string
	bitrate string
	runner  commandRunner
	logger  *slog.Logger
}

// NewFFmpeg creates an ffmpeg transcoder
func NewFFmpeg(cfg *Config, logger *slog.Logger) *FFmpeg {
	path := cfg.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	codec := cfg.AudioCodec
	if codec == "" {
		codec = "libmp3lame"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	return &FFmpeg{
		path:    path,
		timeout: timeout,
		codec:   codec,
		bitrate: cfg.Bitrate,
		runner:  &execRunner{},
		logger:  logger,
	}
}

func (f *FFmpeg) Convert(ctx context.Context, inputPath, outputPath string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	args := f.buildArgs(inputPath, outputPath)
	start := time.Now()

	result, err := f.runner.Run(ctx, f.path, args...)
	if err != nil {
		convErr := &ConversionError{
			Code:     classifyStderr(result.Stderr),
			Detail:   tail(result.Stderr),
			ExitCode: result.ExitCode,
			Err:      err,
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			convErr.Code = domain.ErrorCodeFFmpegFailed
			convErr.Detail = fmt.Sprintf("timed out after %s", f.timeout)
		}

		f.logger.Warn("ffmpeg conversion failed",
			slog.String("input", inputPath),
			slog.Int("exit_code", result.ExitCode),
			slog.String("code", string(convErr.Code)),
			slog.Duration("duration", time.Since(start)),
		)
		return convErr
	}

	info, statErr := os.Stat(outputPath)
	if statErr != nil || info.Size() == 0 {
		return &ConversionError{
			Code:   domain.ErrorCodeOutputNotFound,
			Detail: "ffmpeg produced no output",
			Err:    statErr,
		}
	}

	f.logger.Debug("ffmpeg conversion finished",
		slog.String("input", inputPath),
		slog.Int64("output_bytes", info.Size()),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (f *FFmpeg) buildArgs(inputPath, outputPath string) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-acodec", f.codec,
	}
	if f.bitrate != "" {
		args = append(args, "-b:a", f.bitrate)
	}
	return append(args, outputPath)
}

// classifyStderr maps well-known ffmpeg diagnostics onto job error codes
func classifyStderr(stderr string) domain.ErrorCode {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "does not contain any stream"),
		strings.Contains(lower, "output file is empty"),
		strings.Contains(lower, "output file #0 does not contain any stream"),
		strings.Contains(lower, "matches no streams"):
		return domain.ErrorCodeNoAudioStream
	case strings.Contains(lower, "invalid data found when processing input"),
		strings.Contains(lower, "unknown format"),
		strings.Contains(lower, "could not find codec parameters"):
		return domain.ErrorCodeUnsupportedFormat
	default:
		return domain.ErrorCodeFFmpegFailed
	}
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= stderrTail {
		return s
	}
	return s[len(s)-stderrTail:]
}
