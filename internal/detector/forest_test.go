package detector

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAveragePathLength(t *testing.T) {
	assert.Zero(t, averagePathLength(0))
	assert.Zero(t, averagePathLength(1))
	assert.InDelta(t, 2*eulerGamma-1, averagePathLength(2), 1e-12)

	n := 256
	want := 2*(math.Log(float64(n-1))+eulerGamma) - 2*float64(n-1)/float64(n)
	assert.InDelta(t, want, averagePathLength(n), 1e-12)
}

func TestHeightLimit(t *testing.T) {
	assert.Equal(t, 0, heightLimit(1))
	assert.Equal(t, 1, heightLimit(2))
	assert.Equal(t, 5, heightLimit(20))
	assert.Equal(t, 8, heightLimit(256))
	assert.Equal(t, 9, heightLimit(257))
}

func TestBuildTreeRespectsHeightLimit(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	data := make([]float64, 256)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	tree := buildTree(data, 0, heightLimit(len(data)), rng)

	var walk func(n *node, depth int) (maxDepth, points int)
	walk = func(n *node, depth int) (int, int) {
		if n.isLeaf {
			return depth, n.size
		}
		ld, lp := walk(n.left, depth+1)
		rd, rp := walk(n.right, depth+1)
		if rd > ld {
			ld = rd
		}
		return ld, lp + rp
	}
	maxDepth, points := walk(tree, 0)
	assert.LessOrEqual(t, maxDepth, 8)
	assert.Equal(t, len(data), points, "every point lands in exactly one leaf")
}

func TestBuildTreeSplitsInsideOpenInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	data := []float64{1, 2}
	for i := 0; i < 200; i++ {
		tree := buildTree(data, 0, 4, rng)
		require.False(t, tree.isLeaf)
		assert.Greater(t, tree.split, 1.0)
		assert.LessOrEqual(t, tree.split, 2.0)
		assert.Equal(t, 1, tree.left.size)
		assert.Equal(t, 1, tree.right.size)
	}
}

func TestBuildTreeIdenticalValuesIsLeaf(t *testing.T) {
	tree := buildTree([]float64{7, 7, 7, 7}, 0, 2, rand.New(rand.NewSource(1)))
	assert.True(t, tree.isLeaf)
	assert.Equal(t, 4, tree.size)
	assert.InDelta(t, averagePathLength(4), pathLength(tree, 7, 0), 1e-12)
}

func TestSubsampleWithoutReplacement(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	sample := subsample(values, 5, rand.New(rand.NewSource(5)))
	require.Len(t, sample, 5)

	seen := map[float64]bool{}
	for _, v := range sample {
		assert.False(t, seen[v], "value %v drawn twice", v)
		seen[v] = true
	}
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8}, values, "input must not be reordered")
}

func TestForestScoresOutlierHigher(t *testing.T) {
	values := []float64{20, 21, 22, 19, 20.5, 21.5, 18, 23, 20, 22, 900}
	forest, err := Fit(context.Background(), values, 100, len(values), 42, 4)
	require.NoError(t, err)
	assert.Equal(t, 100, forest.Size())
	assert.Equal(t, len(values), forest.SampleSize())

	outlier := forest.Score(900)
	normal := forest.Score(20.5)
	assert.Greater(t, outlier, normal)
	assert.Greater(t, outlier, 0.5)

	paths := forest.PathLength(900)
	assert.Len(t, paths, 100)

	scores, err := forest.ScoreAll(context.Background(), []float64{900, 20.5}, 3)
	require.NoError(t, err)
	assert.InDelta(t, outlier, scores[0], 1e-12)
	assert.InDelta(t, normal, scores[1], 1e-12)
}

func TestFitRejectsEmpty(t *testing.T) {
	_, err := Fit(context.Background(), nil, 10, 10, 1, 1)
	assert.ErrorIs(t, err, ErrNoValues)
}
