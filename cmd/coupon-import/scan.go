package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
)

// scanConfig bounds the code lists being cross-checked.
type scanConfig struct {
	capacity      uint
	fpr           float64
	minCodeLen    int
	maxCodeLen    int
	minFiles      int
	progressEvery uint64
}

// maxFiles is the width of the per-code file bitmask.
const maxFiles = bits.UintSize

func (c scanConfig) accept(code string) bool {
	return len(code) >= c.minCodeLen && len(code) <= c.maxCodeLen
}

// findValidCodes returns the normalized codes present in at least minFiles of
// the gzip code lists. Pass 1 builds a bloom filter per file; pass 2 re-reads
// every file and confirms the candidates, so false positives of one filter
// never survive on their own.
func findValidCodes(ctx context.Context, cfg scanConfig, files []string) ([]string, error) {
	if len(files) > maxFiles {
		return nil, errors.Errorf("at most %d files are supported, got %d", maxFiles, len(files))
	}
	if cfg.minFiles < 1 || cfg.minFiles > len(files) {
		return nil, errors.Errorf("min files must be in [1, %d], got %d", len(files), cfg.minFiles)
	}

	filters, err := buildBloomFilters(ctx, cfg, files)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	results := make([]map[string]uint, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			candidates, err := findCandidates(gctx, cfg, i, f, filters)
			if err != nil {
				return errors.Wrapf(err, "scan file %d for candidates", i+1)
			}
			results[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= cfg.minFiles {
			valid = append(valid, code)
		}
	}
	slices.Sort(valid)
	return valid, nil
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, cfg scanConfig, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(cfg.capacity, cfg.fpr)
			var count uint64

			if err := streamGzFile(ctx, path, func(code string) {
				if !cfg.accept(code) {
					return
				}
				filter.AddString(code)
				count++
				if cfg.progressEvery > 0 && count%cfg.progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}

			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findCandidates collects the codes of file idx that some other file's filter
// may contain, tagged with the bit of file idx. Merging the per-file results
// counts only real occurrences.
func findCandidates(ctx context.Context, cfg scanConfig, idx int, path string, filters []*bloom.BloomFilter) (map[string]uint, error) {
	candidates := make(map[string]uint)
	var count uint64

	err := streamGzFile(ctx, path, func(code string) {
		if !cfg.accept(code) {
			return
		}
		count++
		if cfg.progressEvery > 0 && count%cfg.progressEvery == 0 {
			slog.Info("pass 2 progress", slog.Int("file", idx+1), slog.Uint64("codes", count))
		}

		if cfg.minFiles == 1 || inOtherFilter(filters, idx, code) {
			candidates[code] |= uint(1) << uint(idx)
		}
	})
	if err != nil {
		return nil, err
	}

	slog.Info("pass 2 complete",
		slog.Int("file", idx+1),
		slog.Uint64("total_codes", count),
		slog.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

func inOtherFilter(filters []*bloom.BloomFilter, idx int, code string) bool {
	for j, f := range filters {
		if j != idx && f.TestString(code) {
			return true
		}
	}
	return false
}

// streamGzFile opens a gzip-compressed file and calls fn for each normalized
// non-empty line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		code := coupon.NormalizeCode(scanner.Text())
		if code == "" {
			continue
		}
		fn(code)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
