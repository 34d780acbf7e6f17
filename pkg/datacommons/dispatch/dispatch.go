// Package dispatch splits large key sets into chunks, drives the
// pagination of each chunk and fans the chunks out over a bounded
// worker group. Failures are collected per chunk so one bad chunk
// never discards the results of its siblings.
package dispatch

import (
	"context"
	"fmt"

	"github.com/diwise/datacommons-client/pkg/datacommons/errors"

	"golang.org/x/sync/errgroup"
)

// Config bounds how a single query is dispatched. Zero values fall
// back to the defaults.
type Config struct {
	MaxBatchSize     int
	MaxPages         int
	ConcurrencyLimit int
}

func DefaultConfig() Config {
	return Config{MaxBatchSize: 100, MaxPages: 50, ConcurrencyLimit: 8}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.MaxPages <= 0 {
		c.MaxPages = d.MaxPages
	}
	if c.ConcurrencyLimit <= 0 {
		c.ConcurrencyLimit = d.ConcurrencyLimit
	}
	return c
}

// Plan describes one dispatchable query: the canonical key set, a
// Fetch that retrieves a single page for a subset of the keys, and a
// Merge that folds page results together. Merge must be associative
// and accept results from disjoint key sets in any order.
type Plan[T any] struct {
	Keys  []string
	Fetch func(ctx context.Context, keys []string, pageToken string) (T, string, error)
	Merge func(dst, src T) T
}

// Failure records the keys of a chunk that could not be fetched to
// completion and the error that stopped it.
type Failure struct {
	Keys []string
	Err  error
}

// Outcome carries the merged value of every page that was fetched,
// together with bookkeeping about the run. Partial is true when at
// least one chunk recorded a failure.
type Outcome[T any] struct {
	Value    T
	Partial  bool
	Failures []Failure
	Chunks   int
	Pages    int
}

type chunkResult[T any] struct {
	value   T
	pages   int
	fetched bool
	err     error
}

// Run partitions plan.Keys into chunks of at most cfg.MaxBatchSize
// keys, fetches the chunks concurrently and merges their pages in
// chunk order. A plan without keys runs exactly one call. Chunks that
// hit the page bound keep the pages already gathered and record a
// PaginationExhaustedError. Once the context is done the remaining
// chunks record its error, so the failure list always accounts for
// the whole key set. Run returns an error only when no chunk produced
// any data at all.
func Run[T any](ctx context.Context, cfg Config, plan Plan[T]) (Outcome[T], error) {
	cfg = cfg.withDefaults()

	chunks := partition(plan.Keys, cfg.MaxBatchSize)
	slots := make([]chunkResult[T], len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.ConcurrencyLimit)

	for i, keys := range chunks {
		g.Go(func() error {
			slots[i] = fetchChunk(gctx, cfg, plan, keys)
			return nil
		})
	}

	_ = g.Wait() // workers never return errors, failures land in their slot

	outcome := Outcome[T]{Chunks: len(chunks)}

	merged := false
	failed := 0

	for i, s := range slots {
		outcome.Pages += s.pages

		if s.fetched {
			if !merged {
				outcome.Value = s.value
				merged = true
			} else {
				outcome.Value = plan.Merge(outcome.Value, s.value)
			}
		}

		if s.err != nil {
			outcome.Failures = append(outcome.Failures, Failure{Keys: chunks[i], Err: s.err})

			if !s.fetched {
				failed++
			}
		}
	}

	outcome.Partial = len(outcome.Failures) > 0

	if failed == len(chunks) {
		return outcome, fmt.Errorf("all %d chunks failed: %w", failed, outcome.Failures[0].Err)
	}

	return outcome, nil
}

func fetchChunk[T any](ctx context.Context, cfg Config, plan Plan[T], keys []string) chunkResult[T] {
	var result chunkResult[T]

	pageToken := ""

	for page := 0; page < cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			result.err = err
			return result
		}

		value, nextToken, err := plan.Fetch(ctx, keys, pageToken)
		if err != nil {
			result.err = err
			return result
		}

		if result.fetched {
			result.value = plan.Merge(result.value, value)
		} else {
			result.value = value
			result.fetched = true
		}
		result.pages++

		if nextToken == "" {
			return result
		}
		pageToken = nextToken
	}

	result.err = errors.NewPaginationExhausted(result.pages)
	return result
}

func partition(keys []string, size int) [][]string {
	if len(keys) == 0 {
		return [][]string{nil}
	}

	chunks := make([][]string, 0, (len(keys)+size-1)/size)

	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		chunks = append(chunks, keys[start:end])
	}

	return chunks
}
