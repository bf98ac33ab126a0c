package source

import (
	"fmt"
	"io"

	"github.com/beam-cloud/ristretto"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBlockSize     = 1 << 20
	DefaultBlockCacheMax = 256 << 20
)

type BlockCacheOpts struct {
	BlockSize int64
	MaxCost   int64

	// Name prefixes cache keys, so one cache can front several sources.
	Name string
}

// BlockCache fronts a slow source with an in-memory cache of aligned blocks.
type BlockCache struct {
	src       Source
	cache     *ristretto.Cache[string, []byte]
	group     singleflight.Group
	blockSize int64
	name      string
}

func NewBlockCache(src Source, opts BlockCacheOpts) (*BlockCache, error) {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.MaxCost <= 0 {
		opts.MaxCost = DefaultBlockCacheMax
	}
	if opts.Name == "" {
		opts.Name = fmt.Sprint(src)
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 1e7,
		MaxCost:     opts.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &BlockCache{
		src:       src,
		cache:     cache,
		blockSize: opts.BlockSize,
		name:      opts.Name,
	}, nil
}

func (c *BlockCache) Size() int64 {
	return c.src.Size()
}

func (c *BlockCache) String() string {
	return c.name
}

func (c *BlockCache) ReadAt(p []byte, off int64) (int, error) {
	size := c.src.Size()
	if off >= size {
		return 0, io.EOF
	}

	total := 0
	for total < len(p) && off < size {
		index := off / c.blockSize
		block, err := c.block(index)
		if err != nil {
			return total, err
		}

		within := off - index*c.blockSize
		if within >= int64(len(block)) {
			break
		}

		n := copy(p[total:], block[within:])
		total += n
		off += int64(n)
	}

	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

func (c *BlockCache) block(index int64) ([]byte, error) {
	key := fmt.Sprintf("%s:%d", c.name, index)
	if block, ok := c.cache.Get(key); ok {
		metrics().RecordCacheHit()
		return block, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		metrics().RecordCacheMiss()

		start := index * c.blockSize
		length := c.blockSize
		if start+length > c.src.Size() {
			length = c.src.Size() - start
		}

		block := make([]byte, length)
		n, err := c.src.ReadAt(block, start)
		if err != nil && !(err == io.EOF && int64(n) == length) {
			return nil, wrapIOError(err)
		}

		c.cache.Set(key, block, int64(len(block)))
		return block, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]byte), nil
}

func (c *BlockCache) Close() error {
	c.cache.Close()
	return Close(c.src)
}
