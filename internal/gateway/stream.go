package gateway

import (
	"errors"
	"io"
	"sync"
)

// Stream reads an object in bounded chunks. The storage handle is released when
// the stream hits EOF, fails, or is closed, whichever comes first.
type Stream struct {
	rc  io.ReadCloser
	buf []byte
	key string

	mu       sync.Mutex
	closed   bool
	closeErr error
}

// NewStream wraps rc; each chunk returned by Next is at most chunkSize bytes
func NewStream(rc io.ReadCloser, chunkSize int, key string) *Stream {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Stream{
		rc:  rc,
		buf: make([]byte, chunkSize),
		key: key,
	}
}

// Key is the object key being streamed
func (s *Stream) Key() string {
	return s.key
}

// Next returns the next chunk, or io.EOF once the object is exhausted.
// The returned slice is only valid until the following call.
func (s *Stream) Next() ([]byte, error) {
	for {
		n, err := s.Read(s.buf)
		if n > 0 {
			return s.buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Read implements io.Reader
func (s *Stream) Read(p []byte) (int, error) {
	if s.isClosed() {
		return 0, io.EOF
	}

	n, err := s.rc.Read(p)
	if err != nil {
		s.Close()
		if n > 0 && errors.Is(err, io.EOF) {
			return n, nil
		}
	}
	return n, err
}

// WriteTo copies the remaining chunks to w and closes the stream
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	defer s.Close()

	var written int64
	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}

		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
}

// Close releases the storage handle. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.closeErr
	}
	s.closed = true
	s.closeErr = s.rc.Close()
	return s.closeErr
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
