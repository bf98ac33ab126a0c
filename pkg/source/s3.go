package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultCacheStartupDelay = time.Second * 30

type S3Opts struct {
	S3ClientOpts
	Bucket string
	Key    string

	// CachePath enables a background download of the whole object. Reads
	// switch to the local copy once it is complete.
	CachePath         string
	CacheStartupDelay time.Duration

	// Client overrides the client built from S3ClientOpts.
	Client *s3.Client
}

type S3 struct {
	svc    *s3.Client
	bucket string
	key    string
	size   int64

	localCachePath string
	cacheDelay     time.Duration
	cachedLocally  atomic.Bool
	cacheMu        sync.RWMutex
	cacheFile      *os.File

	cancel context.CancelFunc
	done   chan struct{}
}

func NewS3(ctx context.Context, opts S3Opts) (*S3, error) {
	svc := opts.Client
	if svc == nil {
		var err error
		svc, err = NewS3Client(ctx, opts.S3ClientOpts)
		if err != nil {
			return nil, wrapIOError(err)
		}
	}

	// Check to see if we have access to the bucket
	_, err := svc.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(opts.Bucket),
	})
	if err != nil {
		return nil, wrapIOError(fmt.Errorf("cannot access bucket <%s>: %v", opts.Bucket, err))
	}

	head, err := svc.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(opts.Bucket),
		Key:    aws.String(opts.Key),
	})
	if err != nil {
		return nil, wrapIOError(fmt.Errorf("cannot stat object <s3://%s/%s>: %v", opts.Bucket, opts.Key, err))
	}

	s := &S3{
		svc:            svc,
		bucket:         opts.Bucket,
		key:            opts.Key,
		size:           aws.ToInt64(head.ContentLength),
		localCachePath: opts.CachePath,
		cacheDelay:     opts.CacheStartupDelay,
		done:           make(chan struct{}),
	}

	if opts.CachePath == "" {
		close(s.done)
		return s, nil
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.done)
		s.startBackgroundDownload(bgCtx)
	}()

	return s, nil
}

func (s *S3) Size() int64 {
	return s.size
}

func (s *S3) String() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

func (s *S3) CachedLocally() bool {
	return s.cachedLocally.Load()
}

// WaitForCache blocks until the background download finished or gave up.
func (s *S3) WaitForCache(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *S3) ReadAt(p []byte, off int64) (int, error) {
	if off >= s.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	want := p
	if off+int64(len(p)) > s.size {
		want = p[:s.size-off]
	}

	if s.cachedLocally.Load() {
		if n, ok := s.readCached(want, off); ok {
			return s.finishRead(n, len(p))
		}
	}

	n, err := s.downloadChunk(want, off, off+int64(len(want))-1)
	if err != nil {
		return n, wrapIOError(err)
	}

	metrics().RecordRangeRead(s.String(), int64(n))
	return s.finishRead(n, len(p))
}

func (s *S3) readCached(dest []byte, off int64) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	if s.cacheFile == nil {
		return 0, false
	}

	n, err := s.cacheFile.ReadAt(dest, off)
	if err == nil || (err == io.EOF && n == len(dest)) {
		return n, true
	}

	// Fall back to the remote object if the local copy fails for some reason
	log.Warn().Err(err).Str("path", s.localCachePath).Msg("local cache read failed, falling back to s3")
	return 0, false
}

func (s *S3) finishRead(n, requested int) (int, error) {
	if n < requested {
		return n, io.EOF
	}
	return n, nil
}

func (s *S3) downloadChunk(dest []byte, start int64, end int64) (int, error) {
	resp, err := s.svc.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.ReadFull(resp.Body, dest)
	if err == io.ErrUnexpectedEOF {
		return n, fmt.Errorf("short range read at %d: got %d of %d bytes", start, n, len(dest))
	}
	return n, err
}

func (s *S3) startBackgroundDownload(ctx context.Context) {
	if fi, err := os.Stat(s.localCachePath); err == nil && fi.Size() == s.size {
		if err := s.useCacheFile(); err == nil {
			log.Info().Msgf("cache file <%s> exists", s.localCachePath)
			return
		}
	}

	select {
	case <-time.After(s.cacheDelay):
	case <-ctx.Done():
		return
	}

	lockFilePath := fmt.Sprintf("%s.lock", s.localCachePath)
	fileLock := flock.New(lockFilePath)

	locked, err := fileLock.TryLock()
	if err != nil {
		log.Error().Msgf("error while trying to acquire file lock: %v", err)
		return
	}

	if !locked {
		log.Warn().Msgf("another process is already caching %s, skipping download", s.localCachePath)
		return
	}

	defer fileLock.Unlock()
	defer os.Remove(lockFilePath)

	log.Info().Msgf("caching <%s> to <%s>", s.String(), s.localCachePath)
	startTime := time.Now()

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err = backoff.Retry(func() error {
		return s.downloadToCache(ctx)
	}, policy)
	if err != nil {
		log.Error().Msgf("failed to cache object: %v", err)
		return
	}

	if err := s.useCacheFile(); err != nil {
		log.Error().Msgf("failed to open cache file %q: %v", s.localCachePath, err)
		return
	}

	log.Info().Msgf("archive <%v> cached in %v", s.localCachePath, time.Since(startTime))
}

func (s *S3) downloadToCache(ctx context.Context) error {
	tmpCacheFile := fmt.Sprintf("%s.%s", s.localCachePath, uuid.New().String()[:6])

	f, err := os.Create(tmpCacheFile)
	if err != nil {
		return backoff.Permanent(err)
	}
	defer f.Close()

	downloader := manager.NewDownloader(s.svc, func(d *manager.Downloader) {
		d.Concurrency = 32
	})

	_, err = downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		os.Remove(tmpCacheFile)
		return err
	}

	return os.Rename(tmpCacheFile, s.localCachePath)
}

func (s *S3) useCacheFile() error {
	f, err := os.Open(s.localCachePath)
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	if s.cacheFile != nil {
		s.cacheFile.Close()
	}
	s.cacheFile = f
	s.cacheMu.Unlock()

	s.cachedLocally.Store(true)
	return nil
}

func (s *S3) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.cachedLocally.Store(false)
	if s.cacheFile != nil {
		err := s.cacheFile.Close()
		s.cacheFile = nil
		return err
	}
	return nil
}
