// Package retriever selects the schema fields and worked examples most
// relevant to a question by exhaustive inner-product search over the
// snapshot's precomputed vectors.
package retriever

import (
	"context"
	"sort"

	"github.com/Nik853/semantic-layer-agent/internal/embedding"
	"github.com/Nik853/semantic-layer-agent/internal/schema"
)

// FieldHit is a retrieved field with its similarity score.
type FieldHit struct {
	Field schema.Field
	Score float32
}

// ExampleHit is a retrieved worked example with its similarity score.
type ExampleHit struct {
	Example schema.Example
	Score   float32
}

// Result is the retrieval context handed to the prompt compiler.
type Result struct {
	Fields   []FieldHit
	Examples []ExampleHit
}

// Retriever searches the snapshot vectors. All vectors are unit length,
// so inner product equals cosine similarity.
type Retriever struct {
	embedder       Embedder
	fields         []schema.Field
	examples       []schema.Example
	fieldVectors   [][]float32
	exampleVectors [][]float32
}

// Embedder is the slice of embedding.Embedder the retriever needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New builds a Retriever over a verified snapshot.
func New(embedder Embedder, snap *schema.Snapshot) *Retriever {
	return &Retriever{
		embedder:       embedder,
		fields:         snap.Fields,
		examples:       snap.Examples,
		fieldVectors:   snap.FieldVectors,
		exampleVectors: snap.ExampleVectors,
	}
}

// Retrieve embeds the question and returns the top fieldK fields and
// exampleK examples by similarity. Ties keep snapshot order, so results
// are deterministic for identical inputs. An embedding failure surfaces
// as-is; there is no keyword fallback.
func (r *Retriever) Retrieve(ctx context.Context, question string, fieldK, exampleK int) (*Result, error) {
	qv, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, i := range topK(qv, r.fieldVectors, fieldK) {
		result.Fields = append(result.Fields, FieldHit{
			Field: r.fields[i],
			Score: embedding.Dot(qv, r.fieldVectors[i]),
		})
	}
	for _, i := range topK(qv, r.exampleVectors, exampleK) {
		result.Examples = append(result.Examples, ExampleHit{
			Example: r.examples[i],
			Score:   embedding.Dot(qv, r.exampleVectors[i]),
		})
	}
	return result, nil
}

// topK returns the indices of the k highest-scoring vectors, best first.
// A stable sort on (score desc, index asc) makes equal scores resolve to
// the earlier entry.
func topK(query []float32, vectors [][]float32, k int) []int {
	if k <= 0 || len(vectors) == 0 {
		return nil
	}

	type scored struct {
		index int
		score float32
	}
	all := make([]scored, len(vectors))
	for i, v := range vectors {
		all[i] = scored{index: i, score: embedding.Dot(query, v)}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].index < all[j].index
	})

	if k > len(all) {
		k = len(all)
	}
	indices := make([]int, k)
	for i := 0; i < k; i++ {
		indices[i] = all[i].index
	}
	return indices
}
