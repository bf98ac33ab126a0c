package solid

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/solid/pkg/common"
	"github.com/beam-cloud/solid/pkg/config"
	"github.com/beam-cloud/solid/pkg/extract"
	"github.com/beam-cloud/solid/pkg/sink"
	"github.com/beam-cloud/solid/pkg/source"
	"github.com/beam-cloud/solid/pkg/stream"
	"github.com/beam-cloud/solid/pkg/testutil"
)

var (
	readme  = testutil.TextBytes(12_000, 1)
	dataBin = testutil.RandomBytes(300_000, 2)
	notes   = testutil.TextBytes(80_000, 3)
)

func buildArchive(t *testing.T) []byte {
	t.Helper()
	data, err := testutil.NewBuilder().
		AddFolder(common.MethodZstd,
			testutil.File{Name: "README.md", Data: readme},
			testutil.File{Name: "empty.txt"},
			testutil.File{Name: "data/blob.bin", Data: dataBin},
		).
		AddFolder(common.MethodLZMA2,
			testutil.File{Name: "notes/today.txt", Data: notes},
		).
		Build()
	require.NoError(t, err)
	return data
}

func writeArchive(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.solid")
	require.NoError(t, os.WriteFile(path, buildArchive(t), 0644))
	return path
}

func fakeS3Opts(fake *testutil.FakeS3) source.S3ClientOpts {
	return source.S3ClientOpts{
		Region:         testutil.FakeS3Region,
		Endpoint:       fake.Endpoint,
		AccessKey:      testutil.FakeS3AccessKey,
		SecretKey:      testutil.FakeS3SecretKey,
		ForcePathStyle: true,
	}
}

func TestSetLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "error", "off"} {
		assert.NoError(t, SetLogLevel(level))
	}
	assert.Error(t, SetLogLevel("loud"))
	require.NoError(t, SetLogLevel("info"))
}

func TestWithLocation(t *testing.T) {
	opts, err := OpenOptions{}.WithLocation("s3://bucket/dir/a.solid")
	require.NoError(t, err)
	assert.Equal(t, "bucket", opts.Bucket)
	assert.Equal(t, "dir/a.solid", opts.Key)

	opts, err = opts.WithLocation("https://cdn.example.com/a.solid")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.solid", opts.URL)
	assert.Empty(t, opts.Bucket)

	opts, err = opts.WithLocation("/data/a.solid")
	require.NoError(t, err)
	assert.Equal(t, "/data/a.solid", opts.Path)
	assert.Empty(t, opts.URL)

	_, err = opts.WithLocation("s3://bucket")
	assert.Error(t, err)
}

func TestOpenLocalArchive(t *testing.T) {
	a, err := Open(context.Background(), OpenOptions{Path: writeArchive(t)})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, common.StorageModeLocal, a.StorageInfo().Type())
	require.Len(t, a.Files(), 4)

	var buf bytes.Buffer
	n, err := a.ExtractTo(context.Background(), "notes/today.txt", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(notes)), n)
	assert.Equal(t, notes, buf.Bytes())

	_, err = a.Lookup("missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestOpenWithoutLocation(t *testing.T) {
	_, err := Open(context.Background(), OpenOptions{})
	assert.Error(t, err)
}

func TestStreamPortion(t *testing.T) {
	a, err := Open(context.Background(), OpenOptions{Path: writeArchive(t), ChunkSize: 64 << 10})
	require.NoError(t, err)
	defer a.Close()

	s, err := a.StreamPortion(context.Background(), "data/blob.bin", 0.5)
	require.NoError(t, err)
	defer s.Close()

	out, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, dataBin[150_000:], out)
	assert.Equal(t, stream.Completed, s.State())

	_, err = a.StreamPortion(context.Background(), "data/blob.bin", 2)
	assert.Error(t, err)
}

func TestOpenS3Archive(t *testing.T) {
	fake := testutil.NewFakeS3(t, "archives", "output")
	fake.Put(t, "archives", "2024/archive.solid", buildArchive(t))

	opts, err := OpenOptions{S3: fakeS3Opts(fake), BlockCache: true, ReportProgress: true, ReportPacked: true}.
		WithLocation("s3://archives/2024/archive.solid")
	require.NoError(t, err)

	a, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "s3://archives/2024/archive.solid", a.StorageInfo().String())

	n, err := a.ExtractFile(context.Background(), "data/blob.bin", "s3://output/copies/blob.bin.zst")
	require.NoError(t, err)
	assert.Equal(t, int64(len(dataBin)), n)

	r, err := zstd.NewReader(bytes.NewReader(fake.Get(t, "output", "copies/blob.bin.zst")))
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, dataBin, got)

	summary, err := a.ExtractAll(context.Background(), "s3://output/all")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Extracted)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, readme, fake.Get(t, "output", "all/README.md"))
	assert.Equal(t, notes, fake.Get(t, "output", "all/notes/today.txt"))
}

func TestOpenHTTPArchive(t *testing.T) {
	data := buildArchive(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "archive.solid", time.Unix(0, 0), bytes.NewReader(data))
	}))
	defer server.Close()

	opts, err := OpenOptions{}.WithLocation(server.URL + "/archive.solid")
	require.NoError(t, err)

	a, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, common.StorageModeHTTP, a.StorageInfo().Type())

	var buf bytes.Buffer
	_, err = a.ExtractTo(context.Background(), "README.md", &buf)
	require.NoError(t, err)
	assert.Equal(t, readme, buf.Bytes())
}

func TestExtractAllLocal(t *testing.T) {
	a, err := Open(context.Background(), OpenOptions{Path: writeArchive(t), LogSkips: true})
	require.NoError(t, err)
	defer a.Close()

	out := t.TempDir()
	summary, err := a.ExtractAll(context.Background(), out, extract.WithContinueOnError(true))
	require.NoError(t, err)
	assert.Equal(t, extract.Summary{Extracted: 3, Skipped: 1, Bytes: int64(len(readme) + len(dataBin) + len(notes))}, summary)

	got, err := os.ReadFile(filepath.Join(out, "data", "blob.bin"))
	require.NoError(t, err)
	assert.Equal(t, dataBin, got)
}

func TestExtractFileLocalGzip(t *testing.T) {
	a, err := Open(context.Background(), OpenOptions{Path: writeArchive(t)})
	require.NoError(t, err)
	defer a.Close()

	target := filepath.Join(t.TempDir(), "readme.md.gz")
	_, err = a.ExtractFile(context.Background(), "README.md", target)
	require.NoError(t, err)

	fi, err := os.Stat(target)
	require.NoError(t, err)
	assert.Greater(t, fi.Size(), int64(0))

	dest := sink.Memory()
	_, err = a.ExtractFileTo(context.Background(), "README.md", dest, "plain")
	require.NoError(t, err)
	got, _ := dest.Bytes("plain")
	assert.Equal(t, readme, got)
}

func TestEncryptedArchive(t *testing.T) {
	data, err := testutil.NewBuilder().
		AddFolder(common.MethodFlate, testutil.File{Name: "secret.txt", Data: readme}).
		WithPassword("correct horse", 1000).
		Build()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "secret.solid")
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = Open(context.Background(), OpenOptions{Path: path})
	assert.ErrorIs(t, err, common.ErrUnsupportedEncryption)

	_, err = Open(context.Background(), OpenOptions{Path: path, Password: "battery staple"})
	assert.ErrorIs(t, err, common.ErrInvalidPassword)

	a, err := Open(context.Background(), OpenOptions{Path: path, Password: "correct horse"})
	require.NoError(t, err)
	defer a.Close()

	var buf bytes.Buffer
	_, err = a.ExtractTo(context.Background(), "secret.txt", &buf)
	require.NoError(t, err)
	assert.Equal(t, readme, buf.Bytes())
}

func TestOptionsFromConfig(t *testing.T) {
	t.Setenv("SOLID_PASSWORD", "pw")
	t.Setenv("SOLID_REPORT_PROGRESS", "true")
	t.Setenv("SOLID_BLOCK_CACHE_ENABLED", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, "pw", opts.Password)
	assert.True(t, opts.ReportProgress)
	assert.True(t, opts.LogSkips)
	assert.True(t, opts.BlockCache)
	assert.Equal(t, cfg.ChunkSize, opts.ChunkSize)
}
