package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openecm/ragsearch/internal/config"
	"github.com/openecm/ragsearch/internal/ragerr"
	"github.com/openecm/ragsearch/internal/repo"
	"github.com/openecm/ragsearch/internal/vectorstore"
)

// DocumentIndexer is the per-document indexing collaborator.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, repositoryID, objectID string) error
	DeleteDocument(ctx context.Context, repositoryID, objectID string) error
	Commit(ctx context.Context) error
}

// RunRecorder persists finished runs for the history surface.
type RunRecorder interface {
	RecordRun(ctx context.Context, scope string, snap Snapshot) error
}

// Metrics receives reindex progress events.
type Metrics interface {
	ReindexStarted(repositoryID string)
	DocumentIndexed(repositoryID string)
	DocumentSkipped(repositoryID string)
	DocumentFailed(repositoryID string)
	ReindexFinished(repositoryID string, phase string, elapsed time.Duration)
}

// HealthStatus is a point-in-time diagnostic of the indexing subsystem.
type HealthStatus struct {
	Enabled           bool   `json:"enabled"`
	Healthy           bool   `json:"healthy"`
	Message           string `json:"message,omitempty"`
	RAGDocumentCount  int    `json:"rag_document_count"`
	RAGChunkCount     int    `json:"rag_chunk_count"`
	EligibleDocuments int    `json:"eligible_documents"`
}

// errCancelled aborts a walk after the cancellation flag was observed.
var errCancelled = errors.New("reindex cancelled")

type job struct {
	ctx          context.Context
	state        *JobState
	repositoryID string
	folderID     string
	full         bool
	recursive    bool
}

// Orchestrator owns the job queue, the worker pool, and per-repository
// job state. Queue and worker sizes come from configuration; the default
// single worker serializes jobs across repositories to bound load on the
// embedding service.
type Orchestrator struct {
	walker   repo.TreeWalker
	indexer  DocumentIndexer
	store    vectorstore.Store
	config   *config.Config
	registry *Registry
	logger   *slog.Logger
	recorder RunRecorder
	metrics  Metrics

	queue chan job
	wg    sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithRunRecorder persists finished runs.
func WithRunRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithMetrics publishes reindex progress events.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an orchestrator and starts its workers.
func NewOrchestrator(walker repo.TreeWalker, indexer DocumentIndexer, store vectorstore.Store, cfg *config.Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		walker:   walker,
		indexer:  indexer,
		store:    store,
		config:   cfg,
		registry: NewRegistry(),
		logger:   logger,
		queue:    make(chan job, cfg.Indexing.QueueSize),
		cancels:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}

	for i := 0; i < cfg.Indexing.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o
}

// Close stops accepting jobs and waits for running ones to finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()

	o.wg.Wait()
}

// StartFullReindex enqueues a full rebuild of the repository's index.
// Returns false if indexing is disabled, a job is already running for
// the repository, or the queue is full.
func (o *Orchestrator) StartFullReindex(repositoryID string) bool {
	return o.start(repositoryID, "", true, true)
}

// StartFolderReindex enqueues a reindex of one folder, optionally
// including its descendants. The rest of the index is left untouched.
func (o *Orchestrator) StartFolderReindex(repositoryID, folderID string, recursive bool) bool {
	return o.start(repositoryID, folderID, false, recursive)
}

func (o *Orchestrator) start(repositoryID, folderID string, full, recursive bool) bool {
	if !o.config.Enabled {
		return false
	}

	state := o.registry.Get(repositoryID)
	if !state.tryStart() {
		return false
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		state.abort()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancels[repositoryID] = cancel

	j := job{
		ctx:          ctx,
		state:        state,
		repositoryID: repositoryID,
		folderID:     folderID,
		full:         full,
		recursive:    recursive,
	}
	select {
	case o.queue <- j:
		o.mu.Unlock()
		return true
	default:
		delete(o.cancels, repositoryID)
		o.mu.Unlock()
		cancel()
		state.abort()
		o.logger.Warn("reindex rejected, queue full", slog.String("repository", repositoryID))
		return false
	}
}

// GetStatus returns a snapshot of the repository's job state, creating
// an idle one if none exists.
func (o *Orchestrator) GetStatus(repositoryID string) Snapshot {
	return o.registry.Get(repositoryID).Snapshot()
}

// Cancel requests cancellation of the running job. The job state flips
// to cancelled immediately; the worker stops at its next checkpoint.
// Returns false if no job is running.
func (o *Orchestrator) Cancel(repositoryID string) bool {
	state := o.registry.Get(repositoryID)
	if !state.requestCancel() {
		return false
	}

	o.mu.Lock()
	cancel := o.cancels[repositoryID]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// ReindexDocument synchronously reindexes one document, independent of
// any batch job. Returns false when indexing is disabled or the
// collaborator call fails.
func (o *Orchestrator) ReindexDocument(ctx context.Context, repositoryID, objectID string) bool {
	if !o.config.Enabled {
		return false
	}
	if err := o.indexer.IndexDocument(ctx, repositoryID, objectID); err != nil {
		o.logger.Warn("single document reindex failed",
			slog.String("repository", repositoryID),
			slog.String("object", objectID),
			slog.String("error", err.Error()))
		return false
	}
	if err := o.indexer.Commit(ctx); err != nil {
		o.logger.Warn("commit failed after single document reindex",
			slog.String("repository", repositoryID),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// RemoveDocument synchronously removes one document from the index.
func (o *Orchestrator) RemoveDocument(ctx context.Context, repositoryID, objectID string) bool {
	if !o.config.Enabled {
		return false
	}
	if err := o.indexer.DeleteDocument(ctx, repositoryID, objectID); err != nil {
		o.logger.Warn("document removal failed",
			slog.String("repository", repositoryID),
			slog.String("object", objectID),
			slog.String("error", err.Error()))
		return false
	}
	if err := o.indexer.Commit(ctx); err != nil {
		o.logger.Warn("commit failed after document removal",
			slog.String("repository", repositoryID),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// ClearIndex removes every indexed record for the repository without
// starting a rebuild. Refused while a job is running.
func (o *Orchestrator) ClearIndex(ctx context.Context, repositoryID string) bool {
	if !o.config.Enabled {
		return false
	}
	if o.registry.Get(repositoryID).Snapshot().Phase == PhaseRunning {
		return false
	}
	if err := o.store.Clear(ctx, repositoryID); err != nil {
		o.logger.Warn("failed to clear index",
			slog.String("repository", repositoryID),
			slog.String("error", err.Error()))
		return false
	}
	if err := o.indexer.Commit(ctx); err != nil {
		o.logger.Warn("commit failed after clearing index",
			slog.String("repository", repositoryID),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// CheckHealth combines index counts with an estimate of eligible source
// documents. Failures downgrade healthy instead of propagating.
func (o *Orchestrator) CheckHealth(ctx context.Context, repositoryID string) HealthStatus {
	h := HealthStatus{Enabled: o.config.Enabled, Healthy: true}
	if !o.config.Enabled {
		h.Healthy = false
		h.Message = "semantic indexing is disabled"
		return h
	}

	if !o.store.Healthy(ctx) {
		h.Healthy = false
		h.Message = "vector store is unreachable"
		return h
	}

	docs, err := o.store.CountByType(ctx, repositoryID, vectorstore.DocTypeDocument)
	if err != nil {
		h.Healthy = false
		h.Message = fmt.Sprintf("failed to count indexed documents: %v", err)
		return h
	}
	h.RAGDocumentCount = docs

	chunks, err := o.store.CountByType(ctx, repositoryID, vectorstore.DocTypeChunk)
	if err != nil {
		h.Healthy = false
		h.Message = fmt.Sprintf("failed to count indexed chunks: %v", err)
		return h
	}
	h.RAGChunkCount = chunks

	eligible, err := o.countEligible(ctx, repositoryID)
	if err != nil {
		h.Healthy = false
		h.Message = fmt.Sprintf("failed to count eligible documents: %v", err)
		return h
	}
	h.EligibleDocuments = eligible
	return h
}

func (o *Orchestrator) countEligible(ctx context.Context, repositoryID string) (int, error) {
	root, err := o.walker.GetRoot(ctx, repositoryID)
	if err != nil {
		return 0, err
	}
	if root == nil {
		return 0, fmt.Errorf("root folder not found")
	}

	count := 0
	var walk func(folderID string) error
	walk = func(folderID string) error {
		children, err := o.walker.GetChildren(ctx, repositoryID, folderID)
		if err != nil {
			return err
		}
		for _, child := range children {
			switch child.Type {
			case repo.EntryFolder:
				if err := walk(child.ID); err != nil {
					return err
				}
			case repo.EntryDocument:
				doc, err := o.walker.GetDocument(ctx, repositoryID, child.ID)
				if err != nil {
					return err
				}
				if doc != nil && o.config.AllowsMimeType(baseMime(doc.MimeType)) {
					count++
				}
			}
		}
		return nil
	}
	if err := walk(root.ID); err != nil {
		return 0, err
	}
	return count, nil
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for j := range o.queue {
		o.run(j)
	}
}

func (o *Orchestrator) run(j job) {
	defer j.state.release()
	start := time.Now()
	o.logger.Info("reindex started",
		slog.String("repository", j.repositoryID),
		slog.Bool("full", j.full),
		slog.String("folder", j.folderID))
	if o.metrics != nil {
		o.metrics.ReindexStarted(j.repositoryID)
	}

	scope := "full"
	if !j.full {
		scope = "folder:" + j.folderID
	}

	walkErr := o.execute(j)

	if err := o.indexer.Commit(j.ctx); err != nil && walkErr == nil && !j.state.isCancelled() {
		walkErr = fmt.Errorf("final commit failed: %w", err)
	}

	switch {
	case j.state.isCancelled():
		// Terminal state was set by Cancel.
	case walkErr != nil:
		j.state.fail(walkErr.Error())
	default:
		snap := j.state.Snapshot()
		j.state.setTotal(snap.IndexedCount + snap.SkippedCount + snap.ErrorCount)
		j.state.complete()
	}

	o.mu.Lock()
	if cancel := o.cancels[j.repositoryID]; cancel != nil {
		cancel()
		delete(o.cancels, j.repositoryID)
	}
	o.mu.Unlock()

	snap := j.state.Snapshot()
	if o.metrics != nil {
		o.metrics.ReindexFinished(j.repositoryID, string(snap.Phase), time.Since(start))
	}
	if o.recorder != nil {
		if err := o.recorder.RecordRun(context.Background(), scope, snap); err != nil {
			o.logger.Warn("failed to record reindex run", slog.String("error", err.Error()))
		}
	}
	o.logger.Info("reindex finished",
		slog.String("repository", j.repositoryID),
		slog.String("phase", string(snap.Phase)),
		slog.Int("indexed", snap.IndexedCount),
		slog.Int("skipped", snap.SkippedCount),
		slog.Int("errors", snap.ErrorCount),
		slog.Duration("elapsed", time.Since(start)))
}

// execute resolves the walk root and drives the tree walk. Only root
// resolution failures and unexpected walk failures are fatal to the job.
func (o *Orchestrator) execute(j job) error {
	// A job cancelled while still queued must not touch the index.
	if j.state.isCancelled() || j.ctx.Err() != nil {
		return nil
	}

	var folder *repo.Folder
	var err error

	if j.full {
		folder, err = o.walker.GetRoot(j.ctx, j.repositoryID)
		if err != nil {
			return fmt.Errorf("failed to resolve root folder: %w", err)
		}
		if folder == nil {
			return fmt.Errorf("root folder not found for repository %s", j.repositoryID)
		}
		// Full rebuild: stale entries must not outlive the run.
		if err := o.store.Clear(j.ctx, j.repositoryID); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
	} else {
		folder, err = o.walker.GetFolder(j.ctx, j.repositoryID, j.folderID)
		if err != nil {
			return fmt.Errorf("failed to resolve folder %s: %w", j.folderID, err)
		}
		if folder == nil {
			return fmt.Errorf("folder %s not found in repository %s", j.folderID, j.repositoryID)
		}
	}

	walkErr := o.walkFolder(j.ctx, j.state, j.repositoryID, folder, j.recursive)
	if errors.Is(walkErr, errCancelled) {
		return nil
	}
	return walkErr
}

// walkFolder visits one folder depth-first. The batch is flushed before
// descending into a subfolder, so batches never straddle folder
// boundaries. Folder-level read failures are recorded and siblings
// continue.
func (o *Orchestrator) walkFolder(ctx context.Context, state *JobState, repositoryID string, folder *repo.Folder, recursive bool) error {
	if state.isCancelled() || ctx.Err() != nil {
		return errCancelled
	}
	state.setCurrent(folder.Name)

	children, err := o.walker.GetChildren(ctx, repositoryID, folder.ID)
	if err != nil {
		state.markError(fmt.Sprintf("folder %s (%s): %v", folder.Name, folder.ID, err))
		if o.metrics != nil {
			o.metrics.DocumentFailed(repositoryID)
		}
		return nil
	}

	batchSize := o.config.Indexing.BatchSize
	batch := make([]*repo.Entry, 0, batchSize)

	for _, child := range children {
		switch child.Type {
		case repo.EntryDocument:
			batch = append(batch, child)
			if len(batch) >= batchSize {
				if err := o.flush(ctx, state, repositoryID, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}

		case repo.EntryFolder:
			if !recursive {
				continue
			}
			if err := o.flush(ctx, state, repositoryID, batch); err != nil {
				return err
			}
			batch = batch[:0]

			if state.isCancelled() || ctx.Err() != nil {
				return errCancelled
			}
			sub, err := o.walker.GetFolder(ctx, repositoryID, child.ID)
			if err != nil || sub == nil {
				state.markError(fmt.Sprintf("folder %s (%s): unresolvable", child.Name, child.ID))
				continue
			}
			if err := o.walkFolder(ctx, state, repositoryID, sub, recursive); err != nil {
				return err
			}
		}
	}

	return o.flush(ctx, state, repositoryID, batch)
}

// flush indexes one batch. Each document is independent: per-document
// failures are classified and recorded, never propagated. Cancellation
// is checked before every document.
func (o *Orchestrator) flush(ctx context.Context, state *JobState, repositoryID string, batch []*repo.Entry) error {
	for _, entry := range batch {
		if state.isCancelled() || ctx.Err() != nil {
			return errCancelled
		}
		state.setCurrent(entry.Name)

		err := o.indexer.IndexDocument(ctx, repositoryID, entry.ID)
		switch {
		case err == nil:
			state.markIndexed()
			if o.metrics != nil {
				o.metrics.DocumentIndexed(repositoryID)
			}
		case ragerr.IsSkip(err):
			state.markSkipped()
			if o.metrics != nil {
				o.metrics.DocumentSkipped(repositoryID)
			}
		default:
			state.markError(fmt.Sprintf("%s (%s): %v", entry.Name, entry.ID, err))
			if o.metrics != nil {
				o.metrics.DocumentFailed(repositoryID)
			}
		}
	}
	return nil
}

func baseMime(mime string) string {
	for i := 0; i < len(mime); i++ {
		if mime[i] == ';' {
			return mime[:i]
		}
	}
	return mime
}
