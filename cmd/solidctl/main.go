package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/solid/pkg/common"
	"github.com/beam-cloud/solid/pkg/config"
	"github.com/beam-cloud/solid/pkg/extract"
	"github.com/beam-cloud/solid/pkg/solid"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := os.Args[1]

	var err error
	switch command {
	case "list", "ls":
		err = listCommand(ctx, os.Args[2:])
	case "cat":
		err = catCommand(ctx, os.Args[2:])
	case "extract":
		err = extractCommand(ctx, os.Args[2:])
	case "extract-all":
		err = extractAllCommand(ctx, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		log.Error().Err(err).Msgf("%s failed", command)
		os.Exit(exitCode(err))
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `solidctl - random access extraction from solid archives

Usage:
  solidctl <command> [options]

Commands:
  list         List the files in an archive
  cat          Stream one file to stdout
  extract      Extract one file to a path or s3:// URL
  extract-all  Extract every file under a directory or s3:// prefix

Examples:
  # List an archive stored in S3
  solidctl list --archive s3://bucket/datasets.solid

  # Stream the second half of a file
  solidctl cat --archive ./datasets.solid --file data/train.csv --start 0.5

  # Extract and recompress into S3
  solidctl extract --archive ./datasets.solid --file data/train.csv --out s3://bucket/train.csv.zst

  # Extract everything
  solidctl extract-all --archive https://example.com/datasets.solid --out ./datasets

Environment Variables:
  SOLID_PASSWORD            Archive password
  SOLID_LOG_LEVEL           Log level (default: info)
  SOLID_CHUNK_SIZE          Stream chunk size in bytes (default: 4 MiB)
  SOLID_CACHE_PATH          Local cache file for S3 archives
  SOLID_BLOCK_CACHE_ENABLED Cache remote reads in memory
  SOLID_S3_REGION           S3 region (default: us-east-1)
  SOLID_S3_ENDPOINT         S3 endpoint override

`)
}

type commonFlags struct {
	archive  *string
	password *string
	progress *bool
	verbose  *bool
	metrics  *string
}

func registerCommon(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		archive:  fs.String("archive", "", "Archive path, s3:// URI or http(s):// URL (required)"),
		password: fs.String("password", "", "Archive password (overrides SOLID_PASSWORD)"),
		progress: fs.Bool("progress", false, "Log extraction progress"),
		verbose:  fs.Bool("verbose", false, "Verbose logging"),
		metrics:  fs.String("metrics", "", "Print run metrics when done (json, summary)"),
	}
}

func openArchive(ctx context.Context, fs *flag.FlagSet, cf commonFlags) (*solid.Archive, error) {
	if *cf.archive == "" {
		fmt.Fprintf(os.Stderr, "Error: --archive is required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if err := solid.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	if *cf.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	opts := solid.OptionsFromConfig(cfg)
	if *cf.password != "" {
		opts.Password = *cf.password
	}
	if *cf.progress {
		opts.ReportProgress = true
		opts.LogSkips = true
	}

	opts, err = opts.WithLocation(*cf.archive)
	if err != nil {
		return nil, err
	}

	return solid.Open(ctx, opts)
}

func listCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	cf := registerCommon(fs)
	asJSON := fs.Bool("json", false, "Print entries as JSON")
	fs.Parse(args)

	archive, err := openArchive(ctx, fs, cf)
	if err != nil {
		return err
	}
	defer archive.Close()

	files := archive.Files()

	if *asJSON {
		type entry struct {
			Name    string    `json:"name"`
			Size    int64     `json:"size"`
			CRC32   string    `json:"crc32"`
			Folder  int       `json:"folder"`
			Method  string    `json:"method,omitempty"`
			ModTime time.Time `json:"mod_time"`
		}

		entries := make([]entry, 0, len(files))
		for _, f := range files {
			e := entry{Name: f.Name, Size: f.Size, CRC32: fmt.Sprintf("%08x", f.CRC32), Folder: common.NoFolder, ModTime: f.ModTime}
			if f.Folder != nil {
				e.Folder = f.Folder.Index
				e.Method = f.Folder.Method.String()
			}
			entries = append(entries, e)
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SIZE\tCRC32\tFOLDER\tMETHOD\tNAME")
	var total int64
	for _, f := range files {
		folder, method := "-", "-"
		if f.Folder != nil {
			folder = fmt.Sprintf("%d", f.Folder.Index)
			method = f.Folder.Method.String()
		}
		fmt.Fprintf(w, "%s\t%08x\t%s\t%s\t%s\n", humanize.IBytes(uint64(f.Size)), f.CRC32, folder, method, f.Name)
		total += f.Size
	}
	if err := w.Flush(); err != nil {
		return err
	}

	log.Info().Msgf("%d files, %s from %s", len(files), humanize.IBytes(uint64(total)), archive.StorageInfo())
	return nil
}

func catCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cat", flag.ExitOnError)
	cf := registerCommon(fs)
	file := fs.String("file", "", "File to stream (required)")
	start := fs.Float64("start", 0, "Fraction of the file to skip before streaming, in [0, 1]")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintf(os.Stderr, "Error: --file is required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	archive, err := openArchive(ctx, fs, cf)
	if err != nil {
		return err
	}
	defer archive.Close()

	s, err := archive.StreamPortion(ctx, *file, *start)
	if err != nil {
		return err
	}
	defer s.Close()

	_, err = s.WriteTo(os.Stdout)
	reportMetrics(*cf.metrics)
	return err
}

func extractCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	cf := registerCommon(fs)
	file := fs.String("file", "", "File to extract (required)")
	out := fs.String("out", "", "Output path or s3:// URL, .gz and .zst suffixes recompress (required)")
	fs.Parse(args)

	if *file == "" || *out == "" {
		fmt.Fprintf(os.Stderr, "Error: --file and --out are required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	archive, err := openArchive(ctx, fs, cf)
	if err != nil {
		return err
	}
	defer archive.Close()

	started := time.Now()
	n, err := archive.ExtractFile(ctx, *file, *out)
	if err != nil {
		return err
	}

	log.Info().Msgf("extracted %s to %s (%s in %s)", *file, *out, humanize.IBytes(uint64(n)), time.Since(started).Round(time.Millisecond))
	reportMetrics(*cf.metrics)
	return nil
}

func extractAllCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("extract-all", flag.ExitOnError)
	cf := registerCommon(fs)
	out := fs.String("out", "", "Output directory or s3://bucket/prefix (required)")
	keepGoing := fs.Bool("keep-going", false, "Continue past files that fail to extract")
	fs.Parse(args)

	if *out == "" {
		fmt.Fprintf(os.Stderr, "Error: --out is required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	archive, err := openArchive(ctx, fs, cf)
	if err != nil {
		return err
	}
	defer archive.Close()

	started := time.Now()
	summary, err := archive.ExtractAll(ctx, *out, extract.WithContinueOnError(*keepGoing))

	log.Info().
		Int("extracted", summary.Extracted).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Str("bytes", humanize.IBytes(uint64(summary.Bytes))).
		Dur("elapsed", time.Since(started).Round(time.Millisecond)).
		Msgf("extracted archive to %s", *out)

	reportMetrics(*cf.metrics)
	return err
}

func reportMetrics(format string) {
	stats := common.GetGlobalMetrics().GetStats()

	switch format {
	case "":
	case "summary":
		stats.PrintSummary()
	default:
		encoder := json.NewEncoder(os.Stderr)
		encoder.SetIndent("", "  ")
		encoder.Encode(stats)
	}
}

// exitCode maps integrity failures to a distinct status so scripts can
// tell corruption apart from plumbing errors.
func exitCode(err error) int {
	switch {
	case errors.Is(err, common.ErrChecksumMismatch):
		return 3
	case errors.Is(err, common.ErrNotFound):
		return 4
	default:
		return 1
	}
}
