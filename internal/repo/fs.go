package repo

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openecm/ragsearch/internal/acl"
)

// FSRepository exposes a directory tree as a single repository. Folder
// and document IDs are slash-separated paths relative to the root; the
// root folder's ID is ".". Hidden entries are skipped.
type FSRepository struct {
	repositoryID string
	root         string
	readers      []string
}

// NewFSRepository creates a read-only walker over dir. readers is the
// principal list stamped on every document.
func NewFSRepository(repositoryID, dir string, readers []string) (*FSRepository, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("repo: failed to resolve %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("repo: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repo: %s is not a directory", dir)
	}
	if len(readers) == 0 {
		readers = []string{acl.Everyone}
	}
	return &FSRepository{repositoryID: repositoryID, root: abs, readers: readers}, nil
}

func (r *FSRepository) check(repositoryID string) error {
	if repositoryID != r.repositoryID {
		return fmt.Errorf("repo: repository %s not found", repositoryID)
	}
	return nil
}

// abs maps an entry ID to its filesystem location, rejecting escapes
// from the root.
func (r *FSRepository) abs(id string) (string, error) {
	clean := path.Clean("/" + id)
	return filepath.Join(r.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func (r *FSRepository) GetRoot(_ context.Context, repositoryID string) (*Folder, error) {
	if err := r.check(repositoryID); err != nil {
		return nil, err
	}
	return &Folder{ID: ".", Name: filepath.Base(r.root), Path: "/"}, nil
}

func (r *FSRepository) GetFolder(ctx context.Context, repositoryID, folderID string) (*Folder, error) {
	if err := r.check(repositoryID); err != nil {
		return nil, err
	}
	if folderID == "." || folderID == "" || folderID == "/" {
		return r.GetRoot(ctx, repositoryID)
	}

	p, err := r.abs(folderID)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo: %w", err)
	}
	if !info.IsDir() {
		return nil, nil
	}

	id := path.Clean(filepath.ToSlash(folderID))
	return &Folder{
		ID:       id,
		Name:     path.Base(id),
		ParentID: parentID(id),
		Path:     "/" + id,
	}, nil
}

func (r *FSRepository) GetChildren(_ context.Context, repositoryID, folderID string) ([]*Entry, error) {
	if err := r.check(repositoryID); err != nil {
		return nil, err
	}

	p, err := r.abs(folderID)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(p)
	if err != nil {
		return nil, fmt.Errorf("repo: failed to read folder %s: %w", folderID, err)
	}

	var entries []*Entry
	for _, d := range dirents {
		if strings.HasPrefix(d.Name(), ".") {
			continue
		}
		id := path.Join(path.Clean(filepath.ToSlash(folderID)), d.Name())
		t := EntryDocument
		if d.IsDir() {
			t = EntryFolder
		}
		entries = append(entries, &Entry{ID: id, Name: d.Name(), Type: t})
	}

	// Folders first, then documents, names ascending within each group.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type == EntryFolder
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

func (r *FSRepository) GetDocument(_ context.Context, repositoryID, objectID string) (*Document, error) {
	if err := r.check(repositoryID); err != nil {
		return nil, err
	}

	p, err := r.abs(objectID)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo: %w", err)
	}
	if info.IsDir() {
		return nil, nil
	}

	content, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("repo: failed to read %s: %w", objectID, err)
	}

	id := path.Clean(filepath.ToSlash(objectID))
	mimeType := mime.TypeByExtension(path.Ext(id))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return &Document{
		ID:         id,
		Name:       path.Base(id),
		ParentID:   parentID(id),
		Path:       "/" + id,
		ObjectType: "document",
		MimeType:   mimeType,
		Readers:    r.readers,
		Content:    content,
	}, nil
}

func parentID(id string) string {
	dir := path.Dir(id)
	if dir == "" {
		return "."
	}
	return dir
}

// PathResolver adapts a TreeWalker to the search engine's folder path
// lookup.
type PathResolver struct {
	Walker TreeWalker
}

func (r PathResolver) FolderPath(ctx context.Context, repositoryID, folderID string) (string, error) {
	f, err := r.Walker.GetFolder(ctx, repositoryID, folderID)
	if err != nil {
		return "", err
	}
	if f == nil {
		return "", fmt.Errorf("repo: folder %s not found", folderID)
	}
	return f.Path, nil
}
