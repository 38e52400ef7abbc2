// Package registry holds the set of documents shared in a session: one
// CRDT plus bookkeeping metadata per fileId, a bounded pending-update queue
// for updates that arrive before their document does, and disk
// persistence for documents this participant owns.
package registry

import (
	"fmt"
	"os"
	"sync"

	"svsmate/apperr"
	"svsmate/crdt"
	"svsmate/logger"
)

// Metadata describes one shared document, independent of its CRDT content.
type Metadata struct {
	FileID         string
	Name           string
	OwnerID        string
	SharedAt       int64
	IsOwner        bool
	LocalPath      string
	Version        int
	LastModifiedBy string
}

// EditorHandle is the opaque sink the registry calls to push a remote
// update into whatever is displaying a document. Implementations must not
// let this call re-enter ApplyEditorChange for the same write.
type EditorHandle interface {
	ReplaceBuffer(text string) error
}

// UpdateListener is notified whenever a document's CRDT applies an update,
// so the session transport can forward it.
type UpdateListener func(fileID string, update []byte, origin crdt.Origin)

type entry struct {
	meta    Metadata
	doc     *crdt.Document
	pending [][]byte
	editor  EditorHandle

	mu         sync.Mutex
	suppressed bool
	lastPushed string
	pushedOnce bool
}

// Registry owns every shared document in this process. All operations are
// safe for concurrent use; mutations to distinct fileIds proceed in
// parallel, mutations to the same fileId are serialized.
type Registry struct {
	mu       sync.RWMutex
	docs     map[string]*entry
	queueCap int
	siteID   int

	listeners []UpdateListener
}

// defaultQueueCap is the bound on a document's pending-update queue before
// the oldest entry is dropped.
const defaultQueueCap = 256

// New creates an empty registry. queueCap <= 0 uses the default of 256.
// siteID must be this process's stable peer identity (see crdt.NewSiteID):
// every document this registry creates seeds its CRDT with it, so positions
// this process allocates never collide with another peer's, even when both
// peers insert at the same offset in the same document at the same time.
func New(queueCap, siteID int) *Registry {
	if queueCap <= 0 {
		queueCap = defaultQueueCap
	}
	return &Registry{
		docs:     make(map[string]*entry),
		queueCap: queueCap,
		siteID:   siteID,
	}
}

// OnUpdate subscribes fn to every applied update across all documents.
func (r *Registry) OnUpdate(fn UpdateListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) notify(fileID string, update []byte, origin crdt.Origin) {
	r.mu.RLock()
	listeners := make([]UpdateListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()
	for _, l := range listeners {
		l(fileID, update, origin)
	}
}

// CreateOwned reads localPath, seeds a CRDT from its content, and registers
// fileId as an owned document. Returns ErrAlreadyExists if fileId is
// already present, ErrIoError if the file cannot be read.
func (r *Registry) CreateOwned(fileID, name, ownerID, localPath string, sharedAt int64) (Metadata, error) {
	r.mu.Lock()
	if e, exists := r.docs[fileID]; exists && e.doc != nil {
		r.mu.Unlock()
		return Metadata{}, apperr.ErrAlreadyExists
	}
	r.mu.Unlock()

	content, err := os.ReadFile(localPath)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: reading %s: %v", apperr.ErrIoError, localPath, err)
	}

	doc := crdt.FromText(string(content), r.siteID)
	meta := Metadata{
		FileID:    fileID,
		Name:      name,
		OwnerID:   ownerID,
		SharedAt:  sharedAt,
		IsOwner:   true,
		LocalPath: localPath,
		Version:   0,
	}
	r.install(fileID, meta, doc)
	return meta, nil
}

// CreateFromContent seeds a non-owned document with content, or converges
// an existing document's text to content if it already exists and differs.
func (r *Registry) CreateFromContent(fileID, name, ownerID, content string, sharedAt int64) (Metadata, error) {
	r.mu.Lock()
	e, exists := r.docs[fileID]
	exists = exists && e.doc != nil // a queue-only placeholder is not a document yet
	r.mu.Unlock()

	if exists {
		if err := e.doc.ConvergeText(content); err != nil {
			return Metadata{}, err
		}
		r.mu.Lock()
		e.meta.Version++
		meta := e.meta
		r.mu.Unlock()
		return meta, nil
	}

	doc := crdt.FromText(content, r.siteID)
	meta := Metadata{
		FileID:   fileID,
		Name:     name,
		OwnerID:  ownerID,
		SharedAt: sharedAt,
		IsOwner:  false,
	}
	r.install(fileID, meta, doc)
	return meta, nil
}

func (r *Registry) install(fileID string, meta Metadata, doc *crdt.Document) {
	e := &entry{meta: meta, doc: doc}
	doc.OnUpdate(func(update []byte, origin crdt.Origin) {
		r.mu.Lock()
		e.meta.Version++
		r.mu.Unlock()
		r.notify(fileID, update, origin)
	})

	r.mu.Lock()
	pending := r.drainPendingLocked(fileID)
	r.docs[fileID] = e
	r.mu.Unlock()

	for _, update := range pending {
		if err := doc.ApplyRemoteUpdate(update, ""); err != nil {
			logger.Error("registry: dropping malformed queued update for %s: %v", fileID, err)
		}
	}
}

func (r *Registry) drainPendingLocked(fileID string) [][]byte {
	e, ok := r.docs[fileID]
	if !ok {
		return nil
	}
	pending := e.pending
	e.pending = nil
	return pending
}

// ApplyUpdateResult reports what ApplyUpdate did, since both outcomes are
// valid non-error results for the caller to act on.
type ApplyUpdateResult int

const (
	Applied ApplyUpdateResult = iota
	Queued
)

// ApplyUpdate applies bytes to fileId's document if it exists, or enqueues
// it (bounded, drop-oldest) if the document hasn't been created yet.
func (r *Registry) ApplyUpdate(fileID string, update []byte, origin string) (ApplyUpdateResult, error) {
	r.mu.Lock()
	e, exists := r.docs[fileID]
	if !exists || e.doc == nil {
		r.queueLocked(fileID, update)
		r.mu.Unlock()
		return Queued, nil
	}
	r.mu.Unlock()

	if err := e.doc.ApplyRemoteUpdate(update, origin); err != nil {
		return Applied, err
	}
	r.mu.Lock()
	e.meta.LastModifiedBy = origin
	r.mu.Unlock()

	r.refreshEditor(fileID, e)
	return Applied, nil
}

// queueLocked must be called with r.mu held. It stores update in a
// placeholder entry's pending queue, bounded to queueCap with the oldest
// entry dropped first.
func (r *Registry) queueLocked(fileID string, update []byte) {
	e, ok := r.docs[fileID]
	if !ok {
		e = &entry{meta: Metadata{FileID: fileID}}
		r.docs[fileID] = e
	}
	e.pending = append(e.pending, update)
	if len(e.pending) > r.queueCap {
		e.pending = e.pending[len(e.pending)-r.queueCap:]
	}
}

// ApplyEditorChange performs a transactional local edit for fileId. It is
// ignored while a programmatic buffer replacement is in flight for the
// same fileId, to avoid feeding a remote update back in as a local edit.
func (r *Registry) ApplyEditorChange(fileID string, offset, deleteLen int, insertText string) error {
	r.mu.RLock()
	e, exists := r.docs[fileID]
	r.mu.RUnlock()
	if !exists {
		return apperr.ErrNotFound
	}

	e.mu.Lock()
	suppressed := e.suppressed
	e.mu.Unlock()
	if suppressed {
		return nil
	}

	return e.doc.ApplyLocalEdit(offset, deleteLen, insertText)
}

// RegisterEditor stores the handle used to push remote updates into
// whatever is displaying fileId.
func (r *Registry) RegisterEditor(fileID string, handle EditorHandle) error {
	r.mu.RLock()
	e, exists := r.docs[fileID]
	r.mu.RUnlock()
	if !exists {
		return apperr.ErrNotFound
	}
	e.mu.Lock()
	e.editor = handle
	e.mu.Unlock()
	return nil
}

// refreshEditor pushes the current CRDT text into the registered editor
// handle, if any, unless it already matches what the registry last pushed —
// avoiding a no-op buffer replace that would otherwise trigger a spurious
// editor change event. The registry is the only writer of the editor's
// buffer besides the user's own local edits (which never reach here, since
// ApplyEditorChange is the one path for those), so lastPushed is a reliable
// stand-in for "what the editor currently displays".
func (r *Registry) refreshEditor(fileID string, e *entry) {
	e.mu.Lock()
	handle := e.editor
	text := e.doc.Text()
	if handle == nil {
		e.mu.Unlock()
		return
	}
	if e.pushedOnce && e.lastPushed == text {
		e.mu.Unlock()
		return
	}
	e.suppressed = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.suppressed = false
		e.mu.Unlock()
	}()

	if err := handle.ReplaceBuffer(text); err != nil {
		logger.Error("registry: replace buffer for %s: %v", fileID, err)
		return
	}
	e.mu.Lock()
	e.lastPushed = text
	e.pushedOnce = true
	e.mu.Unlock()
}

// Snapshot returns fileId's full CRDT state.
func (r *Registry) Snapshot(fileID string) ([]byte, error) {
	e, err := r.get(fileID)
	if err != nil {
		return nil, err
	}
	return e.doc.Snapshot(), nil
}

// Text returns fileId's current text.
func (r *Registry) Text(fileID string) (string, error) {
	e, err := r.get(fileID)
	if err != nil {
		return "", err
	}
	return e.doc.Text(), nil
}

// GetMetadata returns fileId's metadata.
func (r *Registry) GetMetadata(fileID string) (Metadata, error) {
	e, err := r.get(fileID)
	if err != nil {
		return Metadata{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return e.meta, nil
}

// AllMetadata returns metadata for every document that has actually been
// created (placeholders holding only a pending queue are excluded).
func (r *Registry) AllMetadata() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.docs))
	for _, e := range r.docs {
		if e.doc == nil {
			continue
		}
		out = append(out, e.meta)
	}
	return out
}

// Remove tears down fileId's document, pending queue, and editor
// registration.
func (r *Registry) Remove(fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, fileID)
}

// SaveToDisk writes fileId's current text back to its owner's LocalPath.
// Returns ErrNotFound if fileId is unknown, nil without writing if it is
// not owned locally.
func (r *Registry) SaveToDisk(fileID string) error {
	e, err := r.get(fileID)
	if err != nil {
		return err
	}
	r.mu.RLock()
	meta := e.meta
	r.mu.RUnlock()
	if !meta.IsOwner {
		return nil
	}
	if err := os.WriteFile(meta.LocalPath, []byte(e.doc.Text()), 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", apperr.ErrIoError, meta.LocalPath, err)
	}
	return nil
}

func (r *Registry) get(fileID string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.docs[fileID]
	if !ok || e.doc == nil {
		return nil, apperr.ErrNotFound
	}
	return e, nil
}
