package vector

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/cis-project/cis-core/internal/domain"
)

// No ANN library appears anywhere in the example pack or the wider corpus
// this project draws from (no faiss/hnswlib/annoy bindings, no pure-Go
// equivalent), so the index below is a deliberate, hand-rolled exception to
// the "use a third-party library" rule — see DESIGN.md.

const (
	defaultMaxLevel  = 16
	defaultLevelMult = 1 / math.Ln2
)

type hnswNode struct {
	id     string
	vector []float32
	level  int
	// neighbors[l] holds this node's edges at layer l.
	neighbors [][]string
}

// Index is an in-memory, hand-rolled HNSW-style approximate nearest
// neighbor graph over cosine similarity. It is deliberately simple next to
// a production HNSW (no deletion compaction, no disk persistence) because
// the memory corpora it indexes are node-local and small enough to rebuild
// on restart from internal/storage.
type Index struct {
	mu         sync.RWMutex
	dimensions int
	m          int // max neighbors per node per layer
	efSearch   int

	nodes      map[string]*hnswNode
	entryPoint string
	maxLevel   int
	rnd        *rand.Rand
}

// NewIndex creates an empty index for vectors of the given dimensionality.
// efSearch is the initial candidate-list size used at query time; it is
// expected to be retuned at runtime by Controller.
func NewIndex(dimensions int, efSearch int) *Index {
	if efSearch <= 0 {
		efSearch = 50
	}
	return &Index{
		dimensions: dimensions,
		m:          16,
		efSearch:   efSearch,
		nodes:      make(map[string]*hnswNode),
		rnd:        rand.New(rand.NewSource(1)),
	}
}

// SetEfSearch updates the candidate-list size used by subsequent searches.
func (idx *Index) SetEfSearch(ef int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.efSearch = ef
}

// Size returns the number of vectors currently indexed.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}

// Insert adds or replaces a vector in the index.
func (idx *Index) Insert(rec domain.EmbeddingRecord) error {
	if len(rec.Vector) != idx.dimensions {
		return domain.Wrap(domain.ErrVector, "vector.dimension_mismatch", domain.ErrDimensionMismatch)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	level := idx.randomLevel()
	node := &hnswNode{
		id:        rec.ID,
		vector:    rec.Vector,
		level:     level,
		neighbors: make([][]string, level+1),
	}

	if idx.entryPoint == "" {
		idx.nodes[rec.ID] = node
		idx.entryPoint = rec.ID
		idx.maxLevel = level
		return nil
	}

	for l := 0; l <= level && l <= idx.maxLevel; l++ {
		candidates := idx.searchLayer(rec.Vector, idx.entryPoint, idx.m, l)
		for _, c := range candidates {
			if c.id == rec.ID {
				continue
			}
			node.neighbors[l] = append(node.neighbors[l], c.id)
			idx.linkBack(c.id, rec.ID, l)
		}
	}

	idx.nodes[rec.ID] = node
	if level > idx.maxLevel {
		idx.maxLevel = level
		idx.entryPoint = rec.ID
	}
	return nil
}

// Delete removes a vector and prunes it from every neighbor list that
// referenced it.
func (idx *Index) Delete(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.nodes[id]; !ok {
		return
	}
	delete(idx.nodes, id)
	for _, n := range idx.nodes {
		for l := range n.neighbors {
			n.neighbors[l] = removeID(n.neighbors[l], id)
		}
	}
	if idx.entryPoint == id {
		idx.entryPoint = ""
		idx.maxLevel = 0
		for otherID, n := range idx.nodes {
			idx.entryPoint = otherID
			idx.maxLevel = n.level
			break
		}
	}
}

// Search returns up to topK nearest neighbors to query by cosine similarity,
// using the index's current efSearch as the candidate-list size.
func (idx *Index) Search(query []float32, topK int) ([]domain.ScoredResult, error) {
	if len(query) != idx.dimensions {
		return nil, domain.Wrap(domain.ErrVector, "vector.dimension_mismatch", domain.ErrDimensionMismatch)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.entryPoint == "" {
		return nil, nil
	}

	ef := idx.efSearch
	if ef < topK {
		ef = topK
	}
	candidates := idx.searchLayer(query, idx.entryPoint, ef, 0)

	out := make([]domain.ScoredResult, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, domain.ScoredResult{ID: c.id, Score: cosineSimilarity(query, c.vector)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// searchLayer walks breadth-first from entryID through neighbor lists at
// the given layer (a visited node whose level is below layer contributes
// its top-layer edges instead), visiting every node reachable that way
// with no pruning, then returns up to limit of them by descending
// similarity. Callers must hold at least a read lock.
func (idx *Index) searchLayer(query []float32, entryID string, limit int, layer int) []*hnswNode {
	visited := map[string]bool{entryID: true}
	entry, ok := idx.nodes[entryID]
	if !ok {
		return nil
	}
	frontier := []*hnswNode{entry}
	best := []*hnswNode{entry}

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]

		l := layer
		if l > cur.level {
			l = cur.level
		}
		var neighborIDs []string
		if l < len(cur.neighbors) {
			neighborIDs = cur.neighbors[l]
		}
		for _, nid := range neighborIDs {
			if visited[nid] {
				continue
			}
			visited[nid] = true
			n, ok := idx.nodes[nid]
			if !ok {
				continue
			}
			frontier = append(frontier, n)
			best = append(best, n)
		}
	}

	sort.Slice(best, func(i, j int) bool {
		return cosineSimilarity(query, best[i].vector) > cosineSimilarity(query, best[j].vector)
	})
	if len(best) > limit {
		best = best[:limit]
	}
	return best
}

func (idx *Index) linkBack(fromID, toID string, layer int) {
	n, ok := idx.nodes[fromID]
	if !ok || layer >= len(n.neighbors) {
		return
	}
	n.neighbors[layer] = append(n.neighbors[layer], toID)
	if len(n.neighbors[layer]) > idx.m*2 {
		n.neighbors[layer] = n.neighbors[layer][:idx.m*2]
	}
}

func (idx *Index) randomLevel() int {
	level := 0
	for idx.rnd.Float64() < 0.5 && level < defaultMaxLevel {
		level++
	}
	return level
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
