package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	EmbeddingCount int64     `json:"embedding_count"`
	MaxEmbeddingID int64     `json:"max_embedding_id"`
	BuildTime      time.Time `json:"build_time"`
	Version        int       `json:"version"`
}

const hnswMetadataVersion = 1

// hnswSearchMultiplier over-fetches so deleted nodes can be filtered without starving results.
const hnswSearchMultiplier = 3

// Neighbor is one approximate nearest neighbor.
type Neighbor struct {
	EmbeddingID int64
	PersonID    string
	Distance    float64
}

// HNSWIndex wraps the HNSW graph over stored embeddings.
// Nodes are keyed by embedding id; the owning person is kept alongside.
type HNSWIndex struct {
	graph      *hnsw.Graph[int64]
	savedGraph *hnsw.SavedGraph[int64] // set when loaded from disk
	idToPerson map[int64]string
	mu         sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		idToPerson: make(map[int64]string),
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index content with the given candidates.
func (h *HNSWIndex) Build(cands []Candidate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.savedGraph = nil
	h.idToPerson = make(map[int64]string, len(cands))
	if len(cands) == 0 {
		h.graph = nil
		return
	}

	g := newGraph()
	for _, c := range cands {
		if len(c.Vector) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(c.EmbeddingID, c.Vector))
		h.idToPerson[c.EmbeddingID] = c.PersonID
	}
	h.graph = g
}

// Add inserts a single embedding.
func (h *HNSWIndex) Add(c Candidate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(c.Vector) == 0 {
		return
	}
	g := h.activeGraph()
	if g == nil {
		g = newGraph()
		h.graph = g
	}
	g.Add(hnsw.MakeNode(c.EmbeddingID, c.Vector))
	h.idToPerson[c.EmbeddingID] = c.PersonID
}

// Delete removes an embedding from search results.
// HNSW has no cheap true deletion; dropping the id from the lookup map filters it out.
func (h *HNSWIndex) Delete(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.idToPerson, id)
}

// DeletePerson removes every embedding of a person from search results.
func (h *HNSWIndex) DeletePerson(personID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, pid := range h.idToPerson {
		if pid == personID {
			delete(h.idToPerson, id)
		}
	}
}

func (h *HNSWIndex) activeGraph() *hnsw.Graph[int64] {
	if h.savedGraph != nil {
		return h.savedGraph.Graph
	}
	return h.graph
}

// Search finds the k nearest live embeddings to query.
func (h *HNSWIndex) Search(query []float32, k int) ([]Neighbor, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	g := h.activeGraph()
	if g == nil {
		return nil, errors.New("index not initialized")
	}
	if k <= 0 {
		return nil, nil
	}

	nodes := g.Search(query, k*hnswSearchMultiplier)
	out := make([]Neighbor, 0, k)
	for _, n := range nodes {
		pid, ok := h.idToPerson[n.Key]
		if !ok {
			continue
		}
		out = append(out, Neighbor{
			EmbeddingID: n.Key,
			PersonID:    pid,
			Distance:    float64(g.Distance(query, n.Value)),
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// Count returns the number of live indexed embeddings.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToPerson)
}

// IsEmpty returns true if the index has no graph data loaded.
func (h *HNSWIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.activeGraph() == nil
}

// SaveWithMetadata persists the graph, the id→person map and metadata for staleness detection.
func (h *HNSWIndex) SaveWithMetadata(path string, metadata HNSWIndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	g := h.activeGraph()
	if g == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".persons")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if err := g.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing HNSW index file: %w", err)
	}

	metadata.Version = hnswMetadataVersion
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(h.idToPerson); err != nil {
		return fmt.Errorf("failed to encode person map: %w", err)
	}
	if err := os.WriteFile(path+".persons", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write person map: %w", err)
	}
	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// LoadWithMetadata loads the graph and the id→person map from disk.
func (h *HNSWIndex) LoadWithMetadata(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("HNSW index file not found: %s", path)
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	data, err := os.ReadFile(path + ".persons") //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to read person map: %w", err)
	}
	var idToPerson map[int64]string
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&idToPerson); err != nil {
		return fmt.Errorf("failed to decode person map: %w", err)
	}

	h.graph = nil
	h.savedGraph = saved
	h.idToPerson = idToPerson
	return nil
}
