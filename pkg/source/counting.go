package source

import "sync/atomic"

// Counting records every ReadAt issued against the wrapped source.
type Counting struct {
	src   Source
	calls atomic.Int64
	bytes atomic.Int64
}

func NewCounting(src Source) *Counting {
	return &Counting{src: src}
}

func (c *Counting) ReadAt(p []byte, off int64) (int, error) {
	c.calls.Add(1)
	n, err := c.src.ReadAt(p, off)
	c.bytes.Add(int64(n))
	return n, err
}

func (c *Counting) Size() int64 {
	return c.src.Size()
}

func (c *Counting) Calls() int64 {
	return c.calls.Load()
}

func (c *Counting) BytesRead() int64 {
	return c.bytes.Load()
}

func (c *Counting) Reset() {
	c.calls.Store(0)
	c.bytes.Store(0)
}

func (c *Counting) Close() error {
	return Close(c.src)
}
