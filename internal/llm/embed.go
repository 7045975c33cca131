package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultHashDims = 256

// HashEmbedder is a dependency-free embedder: lowercased word and bigram
// features hashed into a fixed number of buckets, L2-normalized. Paraphrases
// sharing vocabulary land close together, which is enough for clustering
// low-confidence queries when no embedding endpoint is configured.
type HashEmbedder struct {
	Dims int
}

func (h HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dims := h.Dims
	if dims <= 0 {
		dims = defaultHashDims
	}
	vec := make([]float32, dims)

	words := Tokenize(text)
	for i, w := range words {
		addFeature(vec, w, 1)
		if i > 0 {
			addFeature(vec, words[i-1]+" "+w, 0.5)
		}
	}
	normalize(vec)
	return vec, nil
}

func addFeature(vec []float32, feature string, weight float32) {
	f := fnv.New32a()
	f.Write([]byte(feature))
	sum := f.Sum32()
	idx := int(sum % uint32(len(vec)))
	// The top bit picks a sign so collisions partially cancel.
	if sum&(1<<31) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= n
	}
}

// Tokenize lowercases text and splits it into letter/digit runs.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// FallbackEmbedder tries Primary and falls back to Secondary on error.
type FallbackEmbedder struct {
	Primary   Embedder
	Secondary Embedder
}

func (f FallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.Primary != nil {
		if v, err := f.Primary.Embed(ctx, text); err == nil {
			return v, nil
		}
	}
	return f.Secondary.Embed(ctx, text)
}
