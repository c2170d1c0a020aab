package realtime

import (
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"
)

const documentContentKey = "content"

// DocumentListener observes document mutations. It receives the binary delta
// that produced the change and the origin of the connection it arrived from,
// so broadcast fan-out can exclude the originator.
type DocumentListener func(update []byte, origin string)

// Document wraps the conflict-free replicated document owned by one session.
// All reads and mutations of the underlying automerge document go through
// this wrapper, which serializes them and relays change notifications.
type Document struct {
	mu             sync.Mutex
	doc            *automerge.Doc
	listenerMu     sync.Mutex
	listeners      map[int64]DocumentListener
	nextListenerID int64
}

// NewDocument builds a document seeded with plain text content.
func NewDocument(initialText string) (*Document, error) {
	doc := automerge.New()
	if err := doc.Path(documentContentKey).Set(initialText); err != nil {
		return nil, fmt.Errorf("realtime: failed to seed document content: %w", err)
	}
	return &Document{doc: doc, listeners: make(map[int64]DocumentListener)}, nil
}

// LoadDocument builds a document from a previously encoded binary state.
func LoadDocument(state []byte) (*Document, error) {
	doc, err := automerge.Load(state)
	if err != nil {
		return nil, fmt.Errorf("realtime: failed to load document state: %w", err)
	}
	return &Document{doc: doc, listeners: make(map[int64]DocumentListener)}, nil
}

// Content returns the current plain text content of the document.
func (d *Document) Content() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.contentLocked()
}

// Save encodes the full document state.
func (d *Document) Save() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Save()
}

// Snapshot returns the content and the encoded state under a single lock
// acquisition, so both describe the same document version.
func (d *Document) Snapshot() (string, []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.contentLocked(), d.doc.Save()
}

// SaveWith encodes the full state and runs fn before releasing the document
// lock. No update can be applied between the snapshot and fn's effects, which
// lets callers couple the snapshot to their own state transitions.
func (d *Document) SaveWith(fn func(state []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.doc.Save())
}

func (d *Document) contentLocked() string {
	value, err := d.doc.Path(documentContentKey).Get()
	if err != nil {
		return ""
	}
	switch content := value.Interface().(type) {
	case string:
		return content
	default:
		return ""
	}
}

// ApplyUpdate applies one binary delta to the document. It reports whether
// the document actually changed (an already-known delta is a no-op) and, on
// change, notifies listeners tagged with the provided origin.
func (d *Document) ApplyUpdate(update []byte, origin string) (bool, error) {
	d.mu.Lock()
	before := d.doc.Heads()
	if err := d.doc.LoadIncremental(update); err != nil {
		d.mu.Unlock()
		return false, fmt.Errorf("realtime: failed to apply document update: %w", err)
	}
	changed := !headsEqual(before, d.doc.Heads())
	d.mu.Unlock()

	if changed {
		d.notifyChanged(update, origin)
	}
	return changed, nil
}

// Subscribe registers a change listener and returns its unsubscribe function.
func (d *Document) Subscribe(listener DocumentListener) func() {
	d.listenerMu.Lock()
	defer d.listenerMu.Unlock()
	d.nextListenerID++
	id := d.nextListenerID
	d.listeners[id] = listener
	return func() {
		d.listenerMu.Lock()
		delete(d.listeners, id)
		d.listenerMu.Unlock()
	}
}

func (d *Document) notifyChanged(update []byte, origin string) {
	d.listenerMu.Lock()
	listeners := make([]DocumentListener, 0, len(d.listeners))
	for _, listener := range d.listeners {
		listeners = append(listeners, listener)
	}
	d.listenerMu.Unlock()
	for _, listener := range listeners {
		listener(update, origin)
	}
}

func headsEqual(before, after []automerge.ChangeHash) bool {
	if len(before) != len(after) {
		return false
	}
	for i := range before {
		if before[i].String() != after[i].String() {
			return false
		}
	}
	return true
}
