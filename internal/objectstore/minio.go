package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sony/gobreaker"
)

// MinioConfig holds MinIO / S3 connection configuration
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	Breaker   BreakerConfig
}

// BreakerConfig tunes the circuit breaker guarding the object store.
// Only Unavailable outcomes count as failures.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// Minio is the MinIO-backed object store
type Minio struct {
	client  *minio.Client
	bucket  string
	region  string
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewMinio creates a MinIO object store client. It does not contact the server.
func NewMinio(cfg *MinioConfig, logger *slog.Logger) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	threshold := cfg.Breaker.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "objectstore:" + cfg.Bucket,
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Object store circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &Minio{
		client:  client,
		bucket:  cfg.Bucket,
		region:  cfg.Region,
		breaker: breaker,
		logger:  logger,
	}, nil
}

// EnsureBucket creates the configured bucket if it does not exist
func (m *Minio) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return newError("bucket-exists", m.bucket, classify(err), err)
	}
	if exists {
		return nil
	}

	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return newError("make-bucket", m.bucket, classify(err), err)
	}

	m.logger.Info("Created object store bucket",
		slog.String("bucket", m.bucket),
	)
	return nil
}

func (m *Minio) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.breaker.Execute(func() (interface{}, error) {
		_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
			ContentType: contentType,
		})
		if err != nil {
			return nil, newError("put", key, classify(err), err)
		}
		return nil, nil
	})
	if err != nil {
		return asError("put", key, err)
	}

	m.logger.Debug("Object stored",
		slog.String("key", key),
		slog.Int64("size", size),
	)
	return nil
}

// Get opens key and stats it before returning, so a missing object fails here
// rather than on the first read
func (m *Minio) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := m.breaker.Execute(func() (interface{}, error) {
		obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return nil, newError("get", key, classify(err), err)
		}
		if _, err := obj.Stat(); err != nil {
			obj.Close()
			return nil, newError("get", key, classify(err), err)
		}
		return obj, nil
	})
	if err != nil {
		return nil, asError("get", key, err)
	}

	return &objectReader{obj: result.(*minio.Object), key: key}, nil
}

// objectReader classifies errors that surface mid-stream
type objectReader struct {
	obj *minio.Object
	key string
}

func (r *objectReader) Read(p []byte) (int, error) {
	n, err := r.obj.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, newError("read", r.key, classify(err), err)
	}
	return n, err
}

func (r *objectReader) Close() error {
	return r.obj.Close()
}

// asError converts breaker rejections into Unavailable and passes classified errors through
func asError(op, key string, err error) error {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr
	}
	return newError(op, key, classify(err), err)
}

// classify maps a MinIO, network or breaker error onto an error kind
func classify(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrUnavailable
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NoSuchObject":
		return ErrNotFound
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "AllAccessDisabled":
		return ErrPermissionDenied
	case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout", "XMinioServerNotInitialized":
		return ErrUnavailable
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusForbidden:
		return ErrPermissionDenied
	case resp.StatusCode >= http.StatusInternalServerError:
		return ErrUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrUnavailable
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrUnavailable
	}

	return ErrStorage
}
