// Package matcher resolves a captured embedding to the nearest enrolled
// identity under a distance tolerance.
//
// Selection is nearest-then-threshold: the globally nearest enrolled vector
// is found first and accepted only if its Euclidean distance is within the
// tolerance. Equidistant identities resolve to the lowest identity id, so a
// scan is deterministic regardless of gallery order or sharding.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/rollcall/internal/model"
)

// Outcome classifies a match attempt. NoMatch and NoEnrollment are ordinary
// results, not errors.
type Outcome int

const (
	OutcomeMatched Outcome = iota
	OutcomeNoMatch
	OutcomeNoEnrollment
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeNoEnrollment:
		return "no_enrollment"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is the outcome of one match. Identity and Distance describe the
// nearest enrolled identity whenever the gallery was not empty, including
// on NoMatch.
type Result struct {
	Outcome  Outcome
	Identity model.Identity
	Distance float64
}

// Matched reports whether the candidate resolved to an identity.
func (r Result) Matched() bool {
	return r.Outcome == OutcomeMatched
}

// Gallery supplies the enrolled identities. *store.Store implements it.
type Gallery interface {
	Enrolled(ctx context.Context) ([]model.Identity, error)
}

// DefaultShardSize is the gallery size above which a scan is split across
// workers.
const DefaultShardSize = 1024

// Options tunes a Matcher.
type Options struct {
	// Workers bounds concurrent shard scans. <= 1 scans sequentially.
	Workers int
	// ShardSize is the number of identities per shard. Defaults to
	// DefaultShardSize.
	ShardSize int
	Logger    *slog.Logger
}

// Matcher matches candidates against a Gallery.
type Matcher struct {
	gallery   Gallery
	dim       int
	workers   int
	shardSize int
	logger    *slog.Logger
}

// New creates a Matcher for embeddings of length dim.
func New(gallery Gallery, dim int, opts Options) *Matcher {
	if opts.ShardSize <= 0 {
		opts.ShardSize = DefaultShardSize
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Matcher{
		gallery:   gallery,
		dim:       dim,
		workers:   opts.Workers,
		shardSize: opts.ShardSize,
		logger:    opts.Logger,
	}
}

// Match resolves one candidate.
//
// A candidate of the wrong length fails with model.ErrDimensionMismatch and
// a negative or NaN tolerance with model.ErrInvalidTolerance. A candidate
// with NaN or infinite components matches nothing.
func (m *Matcher) Match(ctx context.Context, candidate model.Embedding, tolerance float64) (Result, error) {
	results, err := m.MatchAll(ctx, []model.Embedding{candidate}, tolerance)
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// MatchAll resolves every candidate of one capture against a single read
// of the gallery. Results are in candidate order.
func (m *Matcher) MatchAll(ctx context.Context, candidates []model.Embedding, tolerance float64) ([]Result, error) {
	if tolerance < 0 || math.IsNaN(tolerance) {
		return nil, fmt.Errorf("match: %w: %v", model.ErrInvalidTolerance, tolerance)
	}
	for i, c := range candidates {
		if len(c) != m.dim {
			return nil, fmt.Errorf("match: candidate %d: %w: got %d, want %d", i, model.ErrDimensionMismatch, len(c), m.dim)
		}
	}

	gallery, err := m.gallery.Enrolled(ctx)
	if err != nil {
		return nil, fmt.Errorf("match: load gallery: %w", err)
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		if len(gallery) == 0 {
			results[i] = Result{Outcome: OutcomeNoEnrollment}
			continue
		}
		if c.Validate(m.dim) != nil {
			results[i] = Result{Outcome: OutcomeNoMatch, Distance: math.Inf(1)}
			continue
		}

		best, err := nearest(ctx, gallery, c, m.workers, m.shardSize)
		if err != nil {
			return nil, fmt.Errorf("match: %w", err)
		}
		res := Result{Outcome: OutcomeNoMatch, Identity: gallery[best.index], Distance: best.distance}
		if best.distance <= tolerance {
			res.Outcome = OutcomeMatched
		}
		m.logger.Debug("match scanned",
			"candidate", i,
			"gallery", len(gallery),
			"identity_id", res.Identity.ID,
			"distance", res.Distance,
			"outcome", res.Outcome.String())
		results[i] = res
	}
	return results, nil
}

// hit is the best entry found so far in a scan.
type hit struct {
	index    int
	id       int64
	distance float64
}

// better orders candidates by distance, then by identity id.
func (c hit) better(o hit) bool {
	if c.distance != o.distance {
		return c.distance < o.distance
	}
	return c.id < o.id
}

// Nearest returns the index of the gallery entry nearest to vec and its
// distance. Galleries larger than shardSize are scanned in shards on up to
// workers goroutines. gallery must not be empty and every entry must carry
// an embedding of len(vec).
func Nearest(ctx context.Context, gallery []model.Identity, vec model.Embedding, workers, shardSize int) (int, float64, error) {
	best, err := nearest(ctx, gallery, vec, workers, shardSize)
	if err != nil {
		return -1, 0, err
	}
	return best.index, best.distance, nil
}

func nearest(ctx context.Context, gallery []model.Identity, vec model.Embedding, workers, shardSize int) (hit, error) {
	if len(gallery) == 0 {
		return hit{}, fmt.Errorf("nearest: empty gallery")
	}
	if workers <= 1 || len(gallery) <= shardSize {
		return scan(gallery, 0, vec), nil
	}

	shards := (len(gallery) + shardSize - 1) / shardSize
	partial := make([]hit, shards)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < shards; i++ {
		start := i * shardSize
		end := min(start+shardSize, len(gallery))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			partial[i] = scan(gallery[start:end], start, vec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return hit{}, err
	}

	best := partial[0]
	for _, c := range partial[1:] {
		if c.better(best) {
			best = c
		}
	}
	return best, nil
}

func scan(gallery []model.Identity, offset int, vec model.Embedding) hit {
	best := hit{index: -1, distance: math.Inf(1)}
	for i, ident := range gallery {
		c := hit{index: offset + i, id: ident.ID, distance: Distance(vec, ident.Embedding)}
		if best.index < 0 || c.better(best) {
			best = c
		}
	}
	return best
}

// Distance is the Euclidean distance between a and b, which must have the
// same length.
func Distance(a, b model.Embedding) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
