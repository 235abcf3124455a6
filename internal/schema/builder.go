package schema

import (
	"context"
	"fmt"
	"time"
)

// Embedder is the vector source the builder needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Name() string
}

// BuildSnapshot embeds every field and example and assembles an unsealed
// snapshot. Callers save it with SaveSnapshot, which seals the checksum.
func BuildSnapshot(ctx context.Context, fields []Field, examples []Example, embedder Embedder) (*Snapshot, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("cannot build snapshot from empty catalogue")
	}

	fieldVectors := make([][]float32, 0, len(fields))
	for _, f := range fields {
		v, err := embedder.Embed(ctx, f.EmbeddingText())
		if err != nil {
			return nil, fmt.Errorf("failed to embed field %s: %w", f.Name, err)
		}
		fieldVectors = append(fieldVectors, v)
	}

	exampleVectors := make([][]float32, 0, len(examples))
	for _, e := range examples {
		v, err := embedder.Embed(ctx, e.Question)
		if err != nil {
			return nil, fmt.Errorf("failed to embed example %q: %w", e.Question, err)
		}
		exampleVectors = append(exampleVectors, v)
	}

	return &Snapshot{
		Version:         SnapshotVersion,
		BuiltAt:         time.Now().UTC(),
		EmbeddingModel:  embedder.Name(),
		EmbeddingDim:    embedder.Dimensions(),
		Fields:          fields,
		Examples:        examples,
		FieldVectors:    fieldVectors,
		ExampleVectors:  exampleVectors,
		CatalogueDigest: CatalogueDigest(fields),
	}, nil
}
