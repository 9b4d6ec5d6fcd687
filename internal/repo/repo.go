// Package repo defines the read-only view of a content repository that the
// indexing pipeline walks. The repository itself (storage, versioning,
// protocol bindings) lives elsewhere; this package only names the shape the
// reindex walk needs.
package repo

import "context"

// EntryType tags a folder child as a document or a subfolder.
type EntryType string

const (
	EntryDocument EntryType = "document"
	EntryFolder   EntryType = "folder"
)

// Entry is a folder child reference.
type Entry struct {
	ID   string
	Name string
	Type EntryType
}

// Folder is a folder node in the content tree.
type Folder struct {
	ID       string
	Name     string
	ParentID string
	Path     string
}

// Document is a content document with the fields the indexer needs.
type Document struct {
	ID          string
	Name        string
	ParentID    string
	Path        string
	ObjectType  string
	MimeType    string
	Description string
	// Properties holds custom string-valued properties included in the
	// property text.
	Properties map[string]string
	// Readers is the expanded list of principals allowed to read the
	// document. Copied verbatim into the index for ACL filtering.
	Readers []string
	Content []byte
}

// TreeWalker is the read-only tree traversal interface consumed by the
// reindex orchestrator and the document indexer.
type TreeWalker interface {
	// GetRoot returns the root folder of a repository.
	GetRoot(ctx context.Context, repositoryID string) (*Folder, error)

	// GetFolder returns a folder by ID, or nil if it does not exist.
	GetFolder(ctx context.Context, repositoryID, folderID string) (*Folder, error)

	// GetChildren lists the direct children of a folder in stable order.
	GetChildren(ctx context.Context, repositoryID, folderID string) ([]*Entry, error)

	// GetDocument returns a document by ID, or nil if it does not exist
	// or the object is not a document.
	GetDocument(ctx context.Context, repositoryID, objectID string) (*Document, error)
}
