package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticEngineIsDeterministic(t *testing.T) {
	engine := NewStaticEngine(nil)

	a, err := engine.Embed(context.Background(), "thesis writing")
	require.NoError(t, err)
	b, err := engine.Embed(context.Background(), "thesis writing")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := engine.Embed(context.Background(), "painting")
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestStaticEnginePinnedVectors(t *testing.T) {
	pinned := []float32{1, 0, 0}
	engine := NewStaticEngine(map[string][]float32{"thesis": pinned})

	vec, err := engine.Embed(context.Background(), "thesis")
	require.NoError(t, err)
	require.Equal(t, pinned, vec)
}

func TestCosineSimilarity(t *testing.T) {
	same, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	require.InDelta(t, 1.0, same, 1e-9)

	orthogonal, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	require.InDelta(t, 0.0, orthogonal, 1e-9)

	_, err = CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0})
	require.Error(t, err)
}

func TestNormalizeL2(t *testing.T) {
	vec := NormalizeL2([]float32{3, 4})
	require.InDelta(t, 0.6, float64(vec[0]), 1e-6)
	require.InDelta(t, 0.8, float64(vec[1]), 1e-6)

	zero := NormalizeL2([]float32{0, 0})
	require.Equal(t, []float32{0, 0}, zero)
}
