package embedding

import (
	"context"
	"hash/fnv"
)

const staticDimensions = 16

// StaticEngine is a deterministic in-process engine for tests and offline
// development. Identical text always yields the identical vector; fixed
// vectors can be pinned per text to steer classification in tests.
type StaticEngine struct {
	fixed map[string][]float32
}

// NewStaticEngine constructs a StaticEngine. The fixed map may be nil.
func NewStaticEngine(fixed map[string][]float32) *StaticEngine {
	return &StaticEngine{fixed: fixed}
}

// Embed returns the pinned vector for text if present, otherwise a
// unit-length vector derived from a hash of the text.
func (e *StaticEngine) Embed(_ context.Context, text string) ([]float32, error) {
	if vec, ok := e.fixed[text]; ok {
		return vec, nil
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, staticDimensions)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33)) / float32(1<<31)
	}
	return NormalizeL2(vec), nil
}

// EmbedBatch embeds each text in order.
func (e *StaticEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the static vector width.
func (e *StaticEngine) Dimensions() int {
	return staticDimensions
}

// Name identifies the engine for logging.
func (e *StaticEngine) Name() string {
	return "static"
}
