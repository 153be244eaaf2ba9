package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	dims   int
	vector []float32
}

func (p *staticProvider) Name() string    { return "static" }
func (p *staticProvider) Dimensions() int { return p.dims }

func (p *staticProvider) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = p.vector
	}
	return out, nil
}

func TestWrapToDimsPassthrough(t *testing.T) {
	base := &staticProvider{dims: 4, vector: []float32{1, 2, 3, 4}}
	assert.Same(t, Provider(base), WrapToDims(base, 4, ""))
	assert.Nil(t, WrapToDims(nil, 4, ""))
	assert.Same(t, Provider(base), WrapToDims(base, 0, ""))
}

func TestWrapToDimsTruncates(t *testing.T) {
	base := &staticProvider{dims: 4, vector: []float32{1, 2, 3, 4}}
	wrapped := WrapToDims(base, 2, "")
	assert.Equal(t, 2, wrapped.Dimensions())

	vecs, err := wrapped.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vecs[0])
}

func TestWrapToDimsPads(t *testing.T) {
	base := &staticProvider{dims: 2, vector: []float32{1, 2}}
	wrapped := WrapToDims(base, 4, "")

	vecs, err := wrapped.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 0, 0}, vecs[0])
}

func TestAdaptVectorModes(t *testing.T) {
	assert.Equal(t, []float32{1, 2}, adaptVector([]float32{1, 2, 3}, 2, "truncate"))
	assert.Equal(t, []float32{1, 2, 0}, adaptVector([]float32{1, 2}, 3, "truncate"))
	assert.Equal(t, []float32{1, 2, 0}, adaptVector([]float32{1, 2}, 3, "pad"))
	assert.Equal(t, []float32{1, 2}, adaptVector([]float32{1, 2, 3}, 2, "pad"))
	assert.Equal(t, []float32{1, 2, 3}, adaptVector([]float32{1, 2, 3}, 3, "pad_or_truncate"))
	assert.Equal(t, []float32{1, 2, 3}, adaptVector([]float32{1, 2, 3}, 0, "pad_or_truncate"))
}
