package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// Memory is an in-process object store. Faults can be queued per operation so
// tests can reproduce outages and permission errors.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	faults  map[string][]error
	opens   int
	closes  int
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemory creates an empty in-memory object store
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]memoryObject),
		faults:  make(map[string][]error),
	}
}

// FailNext makes the next n calls of op ("put" or "get") fail with kind
func (m *Memory) FailNext(op string, kind error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.faults[op] = append(m.faults[op], kind)
	}
}

func (m *Memory) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := m.fault("put", key); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return newError("put", key, ErrStorage, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return newError("put", key, ErrStorage, fmt.Errorf("read %d bytes, expected %d", len(data), size))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: data, contentType: contentType}
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := m.fault("get", key); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, newError("get", key, ErrNotFound, nil)
	}
	m.opens++
	return &memoryReader{Reader: bytes.NewReader(obj.data), store: m}, nil
}

// Object returns a stored object's bytes and content type
func (m *Memory) Object(key string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj.data, obj.contentType, ok
}

// OpenReaders reports readers returned by Get that have not been closed yet
func (m *Memory) OpenReaders() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens - m.closes
}

func (m *Memory) fault(op, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	queued := m.faults[op]
	if len(queued) == 0 {
		return nil
	}
	m.faults[op] = queued[1:]
	return newError(op, key, queued[0], nil)
}

type memoryReader struct {
	*bytes.Reader
	store  *Memory
	closed bool
}

func (r *memoryReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.store.mu.Lock()
	r.store.closes++
	r.store.mu.Unlock()
	return nil
}
