package store

import (
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// vectorIndex is the in-memory similarity index for one collection,
// backed by a coder/hnsw graph. String fragment IDs map to internal
// uint64 keys. Deletion is lazy: the node stays in the graph but loses
// its ID mapping, because coder/hnsw misbehaves when the last node is
// removed. Orphans disappear when the graph is rebuilt on next open.
type vectorIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	dims    int
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

// scoredID is one raw search hit before fragment rows are attached.
type scoredID struct {
	id    string
	score float64
}

func newVectorIndex(dims int) *vectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &vectorIndex{
		graph:  graph,
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// add inserts or replaces one vector. Replacement orphans the old node.
func (x *vectorIndex) add(id string, vector []float32) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if existingKey, ok := x.idMap[id]; ok {
		delete(x.keyMap, existingKey)
		delete(x.idMap, id)
	}

	key := x.nextKey
	x.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalizeInPlace(vec)

	x.graph.Add(hnsw.MakeNode(key, vec))
	x.idMap[id] = key
	x.keyMap[key] = id
}

// remove drops IDs from the mappings. Unknown IDs are ignored.
func (x *vectorIndex) remove(ids []string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, id := range ids {
		if key, ok := x.idMap[id]; ok {
			delete(x.keyMap, key)
			delete(x.idMap, id)
		}
	}
}

// search returns up to limit IDs with cosine similarity >= minScore,
// ordered by descending score. Orphaned graph nodes are filtered out, so
// the graph is oversearched to compensate.
func (x *vectorIndex) search(query []float32, limit int, minScore float64) []scoredID {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.idMap) == 0 || limit <= 0 {
		return nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	orphans := x.graph.Len() - len(x.idMap)
	nodes := x.graph.Search(q, limit+orphans)

	results := make([]scoredID, 0, limit)
	for _, node := range nodes {
		id, ok := x.keyMap[node.Key]
		if !ok {
			continue // lazy-deleted
		}
		// CosineDistance is 1 - similarity
		score := 1.0 - float64(x.graph.Distance(q, node.Value))
		if score < minScore {
			continue
		}
		results = append(results, scoredID{id: id, score: score})
		if len(results) == limit {
			break
		}
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].score > results[b].score
	})
	return results
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
