package detector

import (
	"context"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

// eulerGamma is the Euler–Mascheroni constant used by the harmonic approximation.
const eulerGamma = 0.5772156649

// node is a single isolation tree node. Leaves carry the number of training points that
// reached them; internal nodes own their two children exclusively.
type node struct {
	split  float64
	left   *node
	right  *node
	size   int
	isLeaf bool
}

// Forest is a fitted isolation forest over one-dimensional latency values.
type Forest struct {
	trees      []*node
	sampleSize int
	norm       float64
}

// Fit builds trees isolation trees over values. Each tree draws sampleSize values without
// replacement using its own random source; the sources are derived from seed in tree
// order, so the fitted forest does not depend on how builds are scheduled across workers.
func Fit(ctx context.Context, values []float64, trees, sampleSize int, seed int64, workers int) (*Forest, error) {
	if len(values) == 0 {
		return nil, ErrNoValues
	}
	if trees < 1 {
		trees = 1
	}
	if sampleSize > len(values) {
		sampleSize = len(values)
	}
	if sampleSize < 1 {
		sampleSize = 1
	}
	if workers < 1 {
		workers = 1
	}

	master := rand.New(rand.NewSource(seed))
	seeds := make([]int64, trees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	limit := heightLimit(sampleSize)
	forest := &Forest{
		trees:      make([]*node, trees),
		sampleSize: sampleSize,
		norm:       averagePathLength(sampleSize),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < trees; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[i]))
			sample := subsample(values, sampleSize, rng)
			forest.trees[i] = buildTree(sample, 0, limit, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return forest, nil
}

// Size returns the number of trees in the forest.
func (f *Forest) Size() int {
	return len(f.trees)
}

// SampleSize returns the effective per-tree subsample size ψ.
func (f *Forest) SampleSize() int {
	return f.sampleSize
}

// PathLength returns the adjusted path length of x in every tree, in tree order.
func (f *Forest) PathLength(x float64) []float64 {
	out := make([]float64, len(f.trees))
	for i, tree := range f.trees {
		out[i] = pathLength(tree, x, 0)
	}
	return out
}

// Score returns s(x) = 2^(-E[h(x)]/c(ψ)).
func (f *Forest) Score(x float64) float64 {
	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, x, 0)
	}
	return f.scoreFromMean(total / float64(len(f.trees)))
}

// ScoreAll scores every value, fanning out across trees on a bounded pool. Per-tree
// path lengths are summed in tree order so the result is bit-for-bit reproducible.
func (f *Forest) ScoreAll(ctx context.Context, values []float64, workers int) ([]float64, error) {
	if workers < 1 {
		workers = 1
	}
	perTree := make([][]float64, len(f.trees))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for t := range f.trees {
		t := t
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			paths := make([]float64, len(values))
			for i, x := range values {
				paths[i] = pathLength(f.trees[t], x, 0)
			}
			perTree[t] = paths
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sums := make([]float64, len(values))
	for _, paths := range perTree {
		for i, h := range paths {
			sums[i] += h
		}
	}
	scores := make([]float64, len(values))
	for i, sum := range sums {
		scores[i] = f.scoreFromMean(sum / float64(len(f.trees)))
	}
	return scores, nil
}

func (f *Forest) scoreFromMean(mean float64) float64 {
	if f.norm <= 0 {
		return 0.5
	}
	return math.Pow(2, -mean/f.norm)
}

// subsample draws n values without replacement via a partial Fisher–Yates shuffle.
func subsample(values []float64, n int, rng *rand.Rand) []float64 {
	pool := append([]float64(nil), values...)
	for i := 0; i < n; i++ {
		j := i + rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}

func buildTree(data []float64, depth, limit int, rng *rand.Rand) *node {
	if len(data) <= 1 || depth >= limit {
		return &node{size: len(data), isLeaf: true}
	}

	lo, hi := bounds(data)
	if hi <= lo {
		// All values identical: no open interval to split in.
		return &node{size: len(data), isLeaf: true}
	}

	split := lo + rng.Float64()*(hi-lo)
	for split <= lo {
		split = lo + rng.Float64()*(hi-lo)
	}

	left := make([]float64, 0, len(data)/2)
	right := make([]float64, 0, len(data)/2)
	for _, v := range data {
		if v < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}

	return &node{
		split: split,
		left:  buildTree(left, depth+1, limit, rng),
		right: buildTree(right, depth+1, limit, rng),
		size:  len(data),
	}
}

func pathLength(n *node, x float64, depth int) float64 {
	for !n.isLeaf {
		if x < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.size)
}

func bounds(data []float64) (float64, float64) {
	lo, hi := data[0], data[0]
	for _, v := range data[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// heightLimit is ceil(log2(ψ)).
func heightLimit(sampleSize int) int {
	if sampleSize <= 1 {
		return 0
	}
	return int(math.Ceil(math.Log2(float64(sampleSize))))
}

// averagePathLength is c(n) = 2H(n-1) - 2(n-1)/n, the expected path length of an
// unsuccessful search in a binary search tree of n points.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2*harmonic(n-1) - 2*float64(n-1)/float64(n)
}

func harmonic(i int) float64 {
	return math.Log(float64(i)) + eulerGamma
}
