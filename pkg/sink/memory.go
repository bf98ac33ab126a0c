package sink

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
)

// MemoryDestination keeps every target in an in-memory buffer.
type MemoryDestination struct {
	mu      sync.Mutex
	targets map[string]*bytes.Buffer
}

func Memory() *MemoryDestination {
	return &MemoryDestination{targets: make(map[string]*bytes.Buffer)}
}

func (m *MemoryDestination) Open(ctx context.Context, target string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	buf := new(bytes.Buffer)
	m.targets[target] = buf
	return &memoryWriter{m: m, buf: buf}, nil
}

// Bytes returns a copy of what was written to target.
func (m *MemoryDestination) Bytes(target string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf, ok := m.targets[target]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), buf.Bytes()...), true
}

func (m *MemoryDestination) Targets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.targets))
	for name := range m.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type memoryWriter struct {
	m   *MemoryDestination
	buf *bytes.Buffer
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	return w.buf.Write(p)
}

func (w *memoryWriter) Close() error {
	return nil
}
