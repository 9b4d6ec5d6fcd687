package repo

import (
	"context"
	"fmt"
	"path"
	"sync"
)

// MemoryRepository is an in-memory TreeWalker. It backs the embedded
// deployment mode and the test fixtures; a production deployment plugs in
// the real content repository instead.
type MemoryRepository struct {
	mu    sync.RWMutex
	repos map[string]*memoryRepo
}

type memoryRepo struct {
	rootID    string
	folders   map[string]*Folder
	documents map[string]*Document
	// children preserves insertion order per folder so walks are
	// deterministic.
	children map[string][]*Entry
}

// NewMemoryRepository creates an empty repository registry.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{repos: make(map[string]*memoryRepo)}
}

// AddRepository creates a repository with a root folder and returns the
// root folder ID.
func (m *MemoryRepository) AddRepository(repositoryID, rootName string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	rootID := repositoryID + "-root"
	r := &memoryRepo{
		rootID:    rootID,
		folders:   make(map[string]*Folder),
		documents: make(map[string]*Document),
		children:  make(map[string][]*Entry),
	}
	r.folders[rootID] = &Folder{ID: rootID, Name: rootName, Path: "/"}
	m.repos[repositoryID] = r
	return rootID
}

// AddFolder creates a folder under parentID and returns its ID.
func (m *MemoryRepository) AddFolder(repositoryID, parentID, folderID, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.repos[repositoryID]
	if !ok {
		return "", fmt.Errorf("repository %s not found", repositoryID)
	}
	parent, ok := r.folders[parentID]
	if !ok {
		return "", fmt.Errorf("folder %s not found in repository %s", parentID, repositoryID)
	}

	f := &Folder{
		ID:       folderID,
		Name:     name,
		ParentID: parentID,
		Path:     path.Join(parent.Path, name),
	}
	r.folders[folderID] = f
	r.children[parentID] = append(r.children[parentID], &Entry{ID: folderID, Name: name, Type: EntryFolder})
	return folderID, nil
}

// AddDocument stores a document under doc.ParentID. The document's Path is
// derived from the parent folder.
func (m *MemoryRepository) AddDocument(repositoryID string, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.repos[repositoryID]
	if !ok {
		return fmt.Errorf("repository %s not found", repositoryID)
	}
	parent, ok := r.folders[doc.ParentID]
	if !ok {
		return fmt.Errorf("folder %s not found in repository %s", doc.ParentID, repositoryID)
	}

	cp := *doc
	cp.Path = path.Join(parent.Path, doc.Name)
	if cp.ObjectType == "" {
		cp.ObjectType = "document"
	}
	r.documents[doc.ID] = &cp
	r.children[doc.ParentID] = append(r.children[doc.ParentID], &Entry{ID: doc.ID, Name: doc.Name, Type: EntryDocument})
	return nil
}

// RemoveDocument deletes a document and its child entry.
func (m *MemoryRepository) RemoveDocument(repositoryID, objectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.repos[repositoryID]
	if !ok {
		return
	}
	doc, ok := r.documents[objectID]
	if !ok {
		return
	}
	delete(r.documents, objectID)

	siblings := r.children[doc.ParentID]
	for i, e := range siblings {
		if e.ID == objectID {
			r.children[doc.ParentID] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
}

// GetRoot implements TreeWalker.
func (m *MemoryRepository) GetRoot(_ context.Context, repositoryID string) (*Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.repos[repositoryID]
	if !ok {
		return nil, fmt.Errorf("repository %s not found", repositoryID)
	}
	return r.folders[r.rootID], nil
}

// GetFolder implements TreeWalker.
func (m *MemoryRepository) GetFolder(_ context.Context, repositoryID, folderID string) (*Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.repos[repositoryID]
	if !ok {
		return nil, fmt.Errorf("repository %s not found", repositoryID)
	}
	return r.folders[folderID], nil
}

// GetChildren implements TreeWalker.
func (m *MemoryRepository) GetChildren(_ context.Context, repositoryID, folderID string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.repos[repositoryID]
	if !ok {
		return nil, fmt.Errorf("repository %s not found", repositoryID)
	}
	if _, ok := r.folders[folderID]; !ok {
		return nil, fmt.Errorf("folder %s not found in repository %s", folderID, repositoryID)
	}

	kids := r.children[folderID]
	out := make([]*Entry, len(kids))
	copy(out, kids)
	return out, nil
}

// GetDocument implements TreeWalker.
func (m *MemoryRepository) GetDocument(_ context.Context, repositoryID, objectID string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.repos[repositoryID]
	if !ok {
		return nil, fmt.Errorf("repository %s not found", repositoryID)
	}
	return r.documents[objectID], nil
}

// Verify interface implementation at compile time
var _ TreeWalker = (*MemoryRepository)(nil)
