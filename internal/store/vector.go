package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/coder/hnsw"
)

// exactSearchLimit is the collection size up to which Search scans every
// vector instead of walking the HNSW graph.
const exactSearchLimit = 256

// HNSW parameters.
const (
	hnswM        = 16
	hnswEfSearch = 64
	hnswMl       = 0.25
)

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob has %d bytes, not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// annIndex is an in-memory nearest-neighbour index over one collection at
// one write generation. It is rebuilt rather than mutated.
type annIndex struct {
	generation int64
	dims       int
	ids        []string
	vectors    [][]float32 // normalized
	graph      *hnsw.Graph[string]
}

func buildANNIndex(generation int64, ids []string, vectors [][]float32) *annIndex {
	idx := &annIndex{generation: generation, ids: ids, vectors: make([][]float32, len(vectors))}
	for i, v := range vectors {
		idx.vectors[i] = normalized(v)
	}
	if len(vectors) > 0 {
		idx.dims = len(vectors[0])
	}
	if len(ids) <= exactSearchLimit {
		return idx
	}

	g := hnsw.NewGraph[string]()
	g.Distance = hnsw.CosineDistance
	g.M = hnswM
	g.EfSearch = hnswEfSearch
	g.Ml = hnswMl
	nodes := make([]hnsw.Node[string], len(ids))
	for i, id := range ids {
		nodes[i] = hnsw.MakeNode(id, idx.vectors[i])
	}
	g.Add(nodes...)
	idx.graph = g
	return idx
}

type hit struct {
	id    string
	score float32
}

func (idx *annIndex) search(query []float32, k int) []hit {
	if len(idx.ids) == 0 || k <= 0 {
		return nil
	}
	q := normalized(query)

	if idx.graph == nil {
		hits := make([]hit, len(idx.ids))
		for i, v := range idx.vectors {
			hits[i] = hit{id: idx.ids[i], score: distanceToScore(hnsw.CosineDistance(q, v))}
		}
		sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
		return hits[:min(k, len(hits))]
	}

	nodes := idx.graph.Search(q, k)
	hits := make([]hit, 0, len(nodes))
	for _, n := range nodes {
		hits = append(hits, hit{id: n.Key, score: distanceToScore(hnsw.CosineDistance(q, n.Value))})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	return hits
}

func normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	var sum float64
	for _, f := range out {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// distanceToScore maps cosine distance in [0, 2] to a score in [0, 1].
func distanceToScore(distance float32) float32 {
	return 1 - distance/2
}
