package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openecm/ragsearch/internal/ragerr"
)

// SolrConfig configures the Solr-backed store.
type SolrConfig struct {
	// URL is the Solr base URL, e.g. http://localhost:8983/solr.
	URL string

	// Core is the collection holding the vector index.
	Core string

	// Timeout bounds a single Solr request.
	Timeout time.Duration
}

// SolrStore implements Store against a Solr collection with dense vector
// fields, using the {!knn} query parser. All failures are transient
// vector-store errors.
type SolrStore struct {
	client *http.Client
	config SolrConfig
}

var _ Store = (*SolrStore)(nil)

// NewSolrStore creates a Solr-backed store.
func NewSolrStore(cfg SolrConfig) *SolrStore {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SolrStore{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}
}

type solrSelectRequest struct {
	Query  string   `json:"query"`
	Filter []string `json:"filter,omitempty"`
	Fields string   `json:"fields,omitempty"`
	Limit  int      `json:"limit"`
}

type solrSelectResponse struct {
	Response struct {
		NumFound int                      `json:"numFound"`
		Docs     []map[string]interface{} `json:"docs"`
	} `json:"response"`
}

// Add upserts records via the update handler.
func (s *SolrStore) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]map[string]interface{}, 0, len(records))
	for _, r := range records {
		doc := map[string]interface{}{
			"id":            r.ID,
			"doc_type":      r.DocType,
			"repository_id": r.RepositoryID,
			"object_id":     r.ObjectID,
			"readers":       r.Readers,
		}
		if r.Name != "" {
			doc["name"] = r.Name
		}
		if r.Path != "" {
			doc["path"] = r.Path
		}
		if r.FolderPath != "" {
			doc["folder_path"] = r.FolderPath
		}
		if r.ObjectType != "" {
			doc["object_type"] = r.ObjectType
		}
		if r.Text != "" {
			doc["text"] = r.Text
		}
		if len(r.Vector) > 0 {
			field := r.VectorField
			if field == "" {
				field = FieldContentVector
			}
			doc[field] = r.Vector
		}
		docs = append(docs, doc)
	}

	return s.update(ctx, docs)
}

// Search runs a {!knn} query with the standard filter stack.
func (s *SolrStore) Search(ctx context.Context, q Query) ([]Hit, error) {
	filters := []string{
		"doc_type:" + q.DocType,
		"repository_id:" + escapeTerm(q.RepositoryID),
	}
	if q.Reader.Query != "" {
		filters = append(filters, q.Reader.Query)
	}
	if q.FolderPath != "" {
		filters = append(filters, folderFilter(q.FolderPath))
	}

	req := solrSelectRequest{
		Query:  fmt.Sprintf("{!knn f=%s topK=%d}%s", q.Field, q.TopK, encodeVector(q.Vector)),
		Filter: filters,
		Fields: "id,object_id,text,score",
		Limit:  q.TopK,
	}

	var resp solrSelectResponse
	if err := s.post(ctx, "/select", req, &resp); err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Response.Docs))
	for _, doc := range resp.Response.Docs {
		objectID, _ := doc["object_id"].(string)
		if objectID == "" {
			continue
		}
		recordID, _ := doc["id"].(string)
		text, _ := doc["text"].(string)
		score, _ := doc["score"].(float64)
		hits = append(hits, Hit{RecordID: recordID, ObjectID: objectID, Score: float32(score), Text: text})
	}
	return hits, nil
}

// FetchMeta fetches display metadata for all object IDs in one query.
func (s *SolrStore) FetchMeta(ctx context.Context, repositoryID string, objectIDs []string) (map[string]DocMeta, error) {
	if len(objectIDs) == 0 {
		return map[string]DocMeta{}, nil
	}

	quoted := make([]string, len(objectIDs))
	for i, id := range objectIDs {
		quoted[i] = escapeTerm(id)
	}

	req := solrSelectRequest{
		Query: "doc_type:" + DocTypeDocument,
		Filter: []string{
			"repository_id:" + escapeTerm(repositoryID),
			"object_id:(" + strings.Join(quoted, " OR ") + ")",
		},
		Fields: "object_id,name,path,object_type",
		Limit:  len(objectIDs),
	}

	var resp solrSelectResponse
	if err := s.post(ctx, "/select", req, &resp); err != nil {
		return nil, err
	}

	meta := make(map[string]DocMeta, len(resp.Response.Docs))
	for _, doc := range resp.Response.Docs {
		objectID, _ := doc["object_id"].(string)
		if objectID == "" {
			continue
		}
		name, _ := doc["name"].(string)
		path, _ := doc["path"].(string)
		objectType, _ := doc["object_type"].(string)
		meta[objectID] = DocMeta{ObjectID: objectID, Name: name, Path: path, ObjectType: objectType}
	}
	return meta, nil
}

// DeleteObject removes the document record and all chunk records for one
// object.
func (s *SolrStore) DeleteObject(ctx context.Context, repositoryID, objectID string) error {
	query := fmt.Sprintf("repository_id:%s AND object_id:%s",
		escapeTerm(repositoryID), escapeTerm(objectID))
	return s.deleteByQuery(ctx, query)
}

// Clear removes all records for a repository.
func (s *SolrStore) Clear(ctx context.Context, repositoryID string) error {
	return s.deleteByQuery(ctx, "repository_id:"+escapeTerm(repositoryID))
}

// Count returns the number of records for a repository.
func (s *SolrStore) Count(ctx context.Context, repositoryID string) (int, error) {
	req := solrSelectRequest{
		Query: "repository_id:" + escapeTerm(repositoryID),
		Limit: 0,
	}
	var resp solrSelectResponse
	if err := s.post(ctx, "/select", req, &resp); err != nil {
		return 0, err
	}
	return resp.Response.NumFound, nil
}

// CountByType returns the number of records of one doc type.
func (s *SolrStore) CountByType(ctx context.Context, repositoryID, docType string) (int, error) {
	req := solrSelectRequest{
		Query:  "repository_id:" + escapeTerm(repositoryID),
		Filter: []string{"doc_type:" + docType},
		Limit:  0,
	}
	var resp solrSelectResponse
	if err := s.post(ctx, "/select", req, &resp); err != nil {
		return 0, err
	}
	return resp.Response.NumFound, nil
}

// Commit issues a hard commit so pending updates become searchable.
func (s *SolrStore) Commit(ctx context.Context) error {
	return s.postRaw(ctx, "/update", map[string]interface{}{"commit": map[string]interface{}{}})
}

// Healthy pings the core.
func (s *SolrStore) Healthy(ctx context.Context) bool {
	url := s.coreURL() + "/admin/ping"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (s *SolrStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *SolrStore) update(ctx context.Context, docs []map[string]interface{}) error {
	return s.postRaw(ctx, "/update", docs)
}

func (s *SolrStore) deleteByQuery(ctx context.Context, query string) error {
	return s.postRaw(ctx, "/update", map[string]interface{}{
		"delete": map[string]interface{}{"query": query},
	})
}

func (s *SolrStore) coreURL() string {
	return strings.TrimRight(s.config.URL, "/") + "/" + s.config.Core
}

func (s *SolrStore) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return ragerr.VectorStoreError("failed to marshal solr request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.coreURL()+path, bytes.NewReader(payload))
	if err != nil {
		return ragerr.VectorStoreError("failed to create solr request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return ragerr.VectorStoreError("solr unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return ragerr.VectorStoreError(
			fmt.Sprintf("solr request failed with status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return ragerr.VectorStoreError("failed to decode solr response", err)
		}
	}
	return nil
}

func (s *SolrStore) postRaw(ctx context.Context, path string, body interface{}) error {
	return s.post(ctx, path, body, nil)
}

// encodeVector renders a dense vector in the bracketed form the knn
// parser expects.
func encodeVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", f)
	}
	b.WriteByte(']')
	return b.String()
}

// escapeTerm escapes Solr query syntax characters in a single term.
func escapeTerm(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '+', '-', '&', '|', '!', '(', ')', '{', '}', '[', ']', '^', '"', '~', '*', '?', ':', '\\', '/', ' ':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// folderFilter scopes a query to a folder subtree by path prefix.
func folderFilter(folderPath string) string {
	prefix := escapeTerm(strings.TrimRight(folderPath, "/"))
	return fmt.Sprintf("folder_path:(%s OR %s\\/*)", prefix, prefix)
}
