package main

import (
	"bufio"
	"context"
	"math/bits"
	"os"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/hosting-checkout/internal/domain/coupon"
)

const (
	// maxFiles is bounded by the width of the per-code file bitmask.
	maxFiles      = 64
	bloomFPR      = 0.001
	progressEvery = 10_000_000
)

type scanConfig struct {
	lg       *zap.Logger
	minLen   int
	maxLen   int
	capacity uint
}

func (c *scanConfig) accept(code string) bool {
	return len(code) >= c.minLen && len(code) <= c.maxLen
}

// findCodes returns the sorted codes found in at least quorum files.
//
// Pass one builds a bloom filter per file. Pass two rescans every file and
// keeps codes the other filters suggest reach quorum, recording which file
// each was seen in. Merging the exact per-file bitmasks removes bloom false
// positives.
func (c *scanConfig) findCodes(ctx context.Context, files []string, quorum int) ([]string, error) {
	c.lg.Info("Building bloom filters", zap.Int("files", len(files)))
	filters, err := c.buildFilters(ctx, files)
	if err != nil {
		return nil, err
	}

	c.lg.Info("Collecting candidates")
	masks := make([]map[string]uint64, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			found, err := c.candidates(gctx, i, path, filters, quorum)
			masks[i] = found
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint64)
	for _, m := range masks {
		for code, bit := range m {
			merged[code] |= bit
		}
	}
	var codes []string
	for code, mask := range merged {
		if bits.OnesCount64(mask) >= quorum {
			codes = append(codes, code)
		}
	}
	slices.Sort(codes)
	return codes, nil
}

func (c *scanConfig) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			f := bloom.NewWithEstimates(c.capacity, bloomFPR)
			n, err := c.stream(ctx, path, func(code string) { f.AddString(code) })
			if err != nil {
				return errors.Wrapf(err, "index %s", path)
			}
			c.lg.Info("Indexed file", zap.String("file", path), zap.Uint64("codes", n))
			filters[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// candidates returns the codes of file idx that the other filters place in
// at least quorum files, each mapped to the bit of idx.
func (c *scanConfig) candidates(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	quorum int,
) (map[string]uint64, error) {
	found := make(map[string]uint64)
	bit := uint64(1) << uint(idx)

	_, err := c.stream(ctx, path, func(code string) {
		if _, ok := found[code]; ok {
			return
		}
		seen := 1
		for j, f := range filters {
			if j != idx && seen < quorum && f.TestString(code) {
				seen++
			}
		}
		if seen >= quorum {
			found[code] = bit
		}
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s", path)
	}
	c.lg.Info("Scanned file", zap.String("file", path), zap.Int("candidates", len(found)))
	return found, nil
}

// stream calls fn with every normalized code of an accepted length in the
// gzipped file at path, one code per line.
func (c *scanConfig) stream(ctx context.Context, path string, fn func(code string)) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	var n uint64
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		code := coupon.NormalizeCode(scanner.Text())
		if !c.accept(code) {
			continue
		}
		fn(code)
		n++
		if n%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
			c.lg.Info("Progress", zap.String("file", path), zap.Uint64("codes", n))
		}
	}
	if err := scanner.Err(); err != nil {
		return n, errors.Wrap(err, "read")
	}
	return n, ctx.Err()
}
