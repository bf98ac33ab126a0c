package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/beam-cloud/solid/pkg/source"
	"github.com/beam-cloud/solid/pkg/stream"
)

const Prefix = "SOLID"

type S3Config struct {
	Region         string `default:"us-east-1"`
	Endpoint       string
	AccessKey      string `split_words:"true"`
	SecretKey      string `split_words:"true"`
	ForcePathStyle bool   `split_words:"true"`
}

func (c S3Config) ClientOpts() source.S3ClientOpts {
	return source.S3ClientOpts{
		Region:         c.Region,
		Endpoint:       c.Endpoint,
		AccessKey:      c.AccessKey,
		SecretKey:      c.SecretKey,
		ForcePathStyle: c.ForcePathStyle,
	}
}

type BlockCacheConfig struct {
	Enabled   bool  `default:"false"`
	BlockSize int64 `split_words:"true" default:"1048576"`
	MaxCost   int64 `split_words:"true" default:"268435456"`
}

// Config is read from SOLID_* environment variables. Command-line flags
// override individual fields.
type Config struct {
	LogLevel string `split_words:"true" default:"info"`
	Password string

	ChunkSize        int    `split_words:"true" default:"4194304"`
	ReadBufferSize   int    `split_words:"true" default:"1048576"`
	DecoderMaxMemory uint64 `split_words:"true" default:"268435456"`
	LowMemory        bool   `split_words:"true"`

	ReportProgress bool `split_words:"true"`
	ReportPacked   bool `split_words:"true"`

	CachePath         string        `split_words:"true"`
	CacheStartupDelay time.Duration `split_words:"true" default:"30s"`

	S3         S3Config
	BlockCache BlockCacheConfig `split_words:"true"`
}

func Load() (Config, error) {
	var cfg Config
	err := envconfig.Process(Prefix, &cfg)
	return cfg, err
}

func (c Config) PositionOpts() stream.PositionOpts {
	return stream.PositionOpts{
		ReadBufferSize: c.ReadBufferSize,
		MaxMemory:      c.DecoderMaxMemory,
		LowMemory:      c.LowMemory,
	}
}

func (c Config) BlockCacheOpts() source.BlockCacheOpts {
	return source.BlockCacheOpts{
		BlockSize: c.BlockCache.BlockSize,
		MaxCost:   c.BlockCache.MaxCost,
	}
}
