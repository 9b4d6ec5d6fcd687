package vectorstore

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coder/hnsw"
	"github.com/gofrs/flock"

	"github.com/openecm/ragsearch/internal/ragerr"
)

// EmbeddedConfig configures the embedded HNSW store.
type EmbeddedConfig struct {
	// DataDir is the directory holding index files and the lock file.
	DataDir string

	// Dimensions is the vector dimension. Zero accepts the first vector's
	// dimension.
	Dimensions int

	// M is the HNSW max connections per layer.
	M int

	// EfSearch is the HNSW query-time search width.
	EfSearch int
}

// EmbeddedStore implements Store with in-process HNSW graphs, one per
// vector field. Filters are evaluated against record metadata after graph
// search. A file lock guards the data directory against concurrent
// processes; Commit persists graphs and metadata atomically.
type EmbeddedStore struct {
	mu     sync.RWMutex
	config EmbeddedConfig
	lock   *flock.Flock

	graphs  map[string]*hnsw.Graph[uint64]
	records map[string]Record            // record ID -> record
	idMap   map[string]uint64            // record ID -> graph key
	keyMap  map[string]map[uint64]string // field -> graph key -> record ID
	nextKey uint64
	dims    int
	closed  bool
}

var _ Store = (*EmbeddedStore)(nil)

type embeddedMetadata struct {
	Records map[string]Record
	IDMap   map[string]uint64
	Fields  []string
	NextKey uint64
	Dims    int
}

// overscan widens graph searches so post-search filtering still fills
// topK.
const overscan = 4

// NewEmbeddedStore opens (or creates) an embedded store in cfg.DataDir.
func NewEmbeddedStore(cfg EmbeddedConfig) (*EmbeddedStore, error) {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	lock := flock.New(filepath.Join(cfg.DataDir, "index.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire index lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("index at %s is locked by another process", cfg.DataDir)
	}

	s := &EmbeddedStore{
		config:  cfg,
		lock:    lock,
		graphs:  make(map[string]*hnsw.Graph[uint64]),
		records: make(map[string]Record),
		idMap:   make(map[string]uint64),
		keyMap:  make(map[string]map[uint64]string),
		dims:    cfg.Dimensions,
	}

	if err := s.load(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

func (s *EmbeddedStore) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = s.config.M
	g.EfSearch = s.config.EfSearch
	g.Ml = 0.25
	return g
}

func (s *EmbeddedStore) graph(field string) *hnsw.Graph[uint64] {
	g, ok := s.graphs[field]
	if !ok {
		g = s.newGraph()
		s.graphs[field] = g
		s.keyMap[field] = make(map[uint64]string)
	}
	return g
}

// Add upserts records. Existing record IDs are lazily deleted before the
// new vector is inserted.
func (s *EmbeddedStore) Add(ctx context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ragerr.VectorStoreError("store is closed", nil)
	}

	for _, r := range records {
		if len(r.Vector) > 0 {
			if s.dims == 0 {
				s.dims = len(r.Vector)
			}
			if len(r.Vector) != s.dims {
				return ErrDimensionMismatch{Expected: s.dims, Got: len(r.Vector)}
			}
		}

		field := r.VectorField
		if field == "" {
			field = FieldContentVector
		}

		if oldKey, exists := s.idMap[r.ID]; exists {
			for _, km := range s.keyMap {
				delete(km, oldKey)
			}
			delete(s.idMap, r.ID)
		}

		if len(r.Vector) > 0 {
			g := s.graph(field)
			key := s.nextKey
			s.nextKey++

			vec := make([]float32, len(r.Vector))
			copy(vec, r.Vector)
			normalizeInPlace(vec)

			g.Add(hnsw.MakeNode(key, vec))
			s.idMap[r.ID] = key
			s.keyMap[field][key] = r.ID
		}

		s.records[r.ID] = r
	}
	return nil
}

// Search runs a graph KNN search, then applies the repository, doc type,
// reader, and folder filters against record metadata.
func (s *EmbeddedStore) Search(ctx context.Context, q Query) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ragerr.VectorStoreError("store is closed", nil)
	}

	g, ok := s.graphs[q.Field]
	if !ok || g.Len() == 0 {
		return []Hit{}, nil
	}
	if s.dims > 0 && len(q.Vector) != s.dims {
		return nil, ErrDimensionMismatch{Expected: s.dims, Got: len(q.Vector)}
	}

	query := make([]float32, len(q.Vector))
	copy(query, q.Vector)
	normalizeInPlace(query)

	nodes := g.Search(query, q.TopK*overscan)

	// Graph traversal order is not guaranteed nearest-first, so score
	// every surviving candidate before ranking and truncating.
	hits := make([]Hit, 0, len(nodes))
	for _, node := range nodes {
		id, ok := s.keyMap[q.Field][node.Key]
		if !ok {
			continue
		}
		r, ok := s.records[id]
		if !ok {
			continue
		}
		if !s.matches(r, q) {
			continue
		}

		distance := g.Distance(query, node.Value)
		hits = append(hits, Hit{RecordID: r.ID, ObjectID: r.ObjectID, Score: distanceToScore(distance), Text: r.Text})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > q.TopK {
		hits = hits[:q.TopK]
	}
	return hits, nil
}

func (s *EmbeddedStore) matches(r Record, q Query) bool {
	if r.DocType != q.DocType || r.RepositoryID != q.RepositoryID {
		return false
	}
	if len(q.Reader.Principals) > 0 && !q.Reader.Matches(r.Readers) {
		return false
	}
	if q.FolderPath != "" {
		prefix := strings.TrimRight(q.FolderPath, "/")
		if r.FolderPath != prefix && !strings.HasPrefix(r.FolderPath, prefix+"/") {
			return false
		}
	}
	return true
}

// FetchMeta resolves display metadata from the document records.
func (s *EmbeddedStore) FetchMeta(ctx context.Context, repositoryID string, objectIDs []string) (map[string]DocMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ragerr.VectorStoreError("store is closed", nil)
	}

	meta := make(map[string]DocMeta, len(objectIDs))
	for _, id := range objectIDs {
		r, ok := s.records[id]
		if !ok || r.DocType != DocTypeDocument || r.RepositoryID != repositoryID {
			continue
		}
		meta[id] = DocMeta{ObjectID: r.ObjectID, Name: r.Name, Path: r.Path, ObjectType: r.ObjectType}
	}
	return meta, nil
}

// DeleteObject lazily deletes all records for one object.
func (s *EmbeddedStore) DeleteObject(ctx context.Context, repositoryID, objectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ragerr.VectorStoreError("store is closed", nil)
	}

	for id, r := range s.records {
		if r.RepositoryID != repositoryID || r.ObjectID != objectID {
			continue
		}
		s.removeLocked(id)
	}
	return nil
}

// Clear lazily deletes all records for a repository.
func (s *EmbeddedStore) Clear(ctx context.Context, repositoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ragerr.VectorStoreError("store is closed", nil)
	}

	for id, r := range s.records {
		if r.RepositoryID != repositoryID {
			continue
		}
		s.removeLocked(id)
	}
	return nil
}

func (s *EmbeddedStore) removeLocked(id string) {
	if key, ok := s.idMap[id]; ok {
		for _, km := range s.keyMap {
			delete(km, key)
		}
		delete(s.idMap, id)
	}
	delete(s.records, id)
}

// Count returns the number of records for a repository.
func (s *EmbeddedStore) Count(ctx context.Context, repositoryID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ragerr.VectorStoreError("store is closed", nil)
	}

	n := 0
	for _, r := range s.records {
		if r.RepositoryID == repositoryID {
			n++
		}
	}
	return n, nil
}

// CountByType returns the number of records of one doc type.
func (s *EmbeddedStore) CountByType(ctx context.Context, repositoryID, docType string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ragerr.VectorStoreError("store is closed", nil)
	}

	n := 0
	for _, r := range s.records {
		if r.RepositoryID == repositoryID && r.DocType == docType {
			n++
		}
	}
	return n, nil
}

// Commit persists graphs and metadata to disk.
func (s *EmbeddedStore) Commit(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ragerr.VectorStoreError("store is closed", nil)
	}
	if err := s.save(); err != nil {
		return ragerr.VectorStoreError("failed to persist index", err)
	}
	return nil
}

// Healthy reports true while the store is open.
func (s *EmbeddedStore) Healthy(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// Close persists state and releases the directory lock.
func (s *EmbeddedStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	saveErr := s.save()
	s.closed = true
	if err := s.lock.Unlock(); err != nil && saveErr == nil {
		saveErr = err
	}
	return saveErr
}

func (s *EmbeddedStore) metaPath() string {
	return filepath.Join(s.config.DataDir, "index.meta")
}

func (s *EmbeddedStore) graphPath(field string) string {
	return filepath.Join(s.config.DataDir, field+".hnsw")
}

// save writes each graph and the gob metadata using temp file + rename.
func (s *EmbeddedStore) save() error {
	fields := make([]string, 0, len(s.graphs))
	for field, g := range s.graphs {
		fields = append(fields, field)
		path := s.graphPath(field)
		tmp := path + ".tmp"

		file, err := os.Create(tmp)
		if err != nil {
			return fmt.Errorf("failed to create graph file: %w", err)
		}
		if err := g.Export(file); err != nil {
			_ = file.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("failed to export graph: %w", err)
		}
		if err := file.Close(); err != nil {
			_ = os.Remove(tmp)
			return err
		}
		if err := os.Rename(tmp, path); err != nil {
			_ = os.Remove(tmp)
			return err
		}
	}

	tmp := s.metaPath() + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}
	meta := embeddedMetadata{
		Records: s.records,
		IDMap:   s.idMap,
		Fields:  fields,
		NextKey: s.nextKey,
		Dims:    s.dims,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.metaPath())
}

// load restores a previously committed index. A missing metadata file
// means a fresh store.
func (s *EmbeddedStore) load() error {
	file, err := os.Open(s.metaPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var meta embeddedMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}

	s.records = meta.Records
	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.dims = meta.Dims

	for _, field := range meta.Fields {
		g := s.newGraph()
		gf, err := os.Open(s.graphPath(field))
		if err != nil {
			return fmt.Errorf("failed to open graph file: %w", err)
		}
		// coder/hnsw Import requires an io.ByteReader.
		if err := g.Import(bufio.NewReader(gf)); err != nil {
			_ = gf.Close()
			return fmt.Errorf("failed to import graph: %w", err)
		}
		_ = gf.Close()

		s.graphs[field] = g
		s.keyMap[field] = make(map[uint64]string)
	}

	for id, r := range s.records {
		key, ok := s.idMap[id]
		if !ok {
			continue
		}
		field := r.VectorField
		if field == "" {
			field = FieldContentVector
		}
		if km, ok := s.keyMap[field]; ok {
			km[key] = id
		}
	}
	return nil
}

// distanceToScore maps a cosine distance in [0,2] to a similarity in
// [0,1].
func distanceToScore(d float32) float32 {
	score := 1 - d/2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return
	}
	for i, val := range v {
		v[i] = float32(float64(val) / magnitude)
	}
}
