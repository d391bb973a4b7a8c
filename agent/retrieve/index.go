package retrieve

import (
	"context"
	"fmt"
	"sort"

	"github.com/malachide2/CareWallet-Chatbot/agent/contract"
)

// Document is one indexable unit of the corpus.
type Document struct {
	ID   string
	Text string
}

const defaultQueryLimit = 4

// Index ranks documents against a query by cosine similarity of embedding
// vectors plus an exact-token overlap boost. The boost guarantees that a
// query carrying a literal date or name token surfaces the document that
// contains it ahead of merely similar ones.
type Index struct {
	embedder Embedder
	limit    int

	docs    []Document
	vectors []Vector
	tokens  []map[string]struct{}
}

// IndexOption customizes an Index.
type IndexOption func(*Index)

// WithQueryLimit caps how many fragments a query returns.
func WithQueryLimit(limit int) IndexOption {
	return func(ix *Index) {
		if limit > 0 {
			ix.limit = limit
		}
	}
}

// NewIndex embeds every document up front and keeps the vectors in memory.
func NewIndex(ctx context.Context, embedder Embedder, docs []Document, opts ...IndexOption) (*Index, error) {
	if embedder == nil {
		embedder = NewHashingEmbedder(0)
	}

	ix := &Index{
		embedder: embedder,
		limit:    defaultQueryLimit,
		docs:     append([]Document(nil), docs...),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ix)
		}
	}

	ix.vectors = make([]Vector, len(ix.docs))
	ix.tokens = make([]map[string]struct{}, len(ix.docs))
	for i, doc := range ix.docs {
		vec, err := embedder.Embed(ctx, doc.Text)
		if err != nil {
			return nil, fmt.Errorf("%w: embed doc %s: %v", contract.ErrRetrieval, doc.ID, err)
		}
		ix.vectors[i] = vec

		set := make(map[string]struct{})
		for _, token := range Tokenize(doc.Text) {
			set[token] = struct{}{}
		}
		ix.tokens[i] = set
	}
	return ix, nil
}

var _ contract.Retriever = (*Index)(nil)

// Query returns the highest-scoring fragments for the text, most relevant
// first. An empty corpus yields an empty result, not an error.
func (ix *Index) Query(ctx context.Context, text string) ([]contract.Fragment, error) {
	if len(ix.docs) == 0 {
		return nil, nil
	}

	queryVec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", contract.ErrRetrieval, err)
	}
	queryTokens := Tokenize(text)

	scored := make([]contract.Fragment, 0, len(ix.docs))
	for i, doc := range ix.docs {
		var overlap float64
		for _, token := range queryTokens {
			if _, ok := ix.tokens[i][token]; ok {
				overlap++
			}
		}
		score := overlap + CosineSimilarity(queryVec, ix.vectors[i])
		if score <= 0 {
			continue
		}
		scored = append(scored, contract.Fragment{
			DocID: doc.ID,
			Text:  doc.Text,
			Score: score,
		})
	}

	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].Score > scored[b].Score
	})
	if len(scored) > ix.limit {
		scored = scored[:ix.limit]
	}
	return scored, nil
}
