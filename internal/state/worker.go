// Package state holds process-wide worker state shared by every channel:
// the publish switch, the competing-speaker flag and the current model
// selection.
package state

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Worker is read on every channel's hot path and written only by the
// command dispatcher.
type Worker struct {
	id string

	publish  atomic.Bool
	suppress atomic.Bool

	mu            sync.RWMutex
	languageModel string
	acousticModel string
	keywords      []string
}

// NewWorker creates worker state with publishing enabled. An empty id is
// replaced by a random UUID.
func NewWorker(id, languageModel, acousticModel string) *Worker {
	if id == "" {
		id = uuid.NewString()
	}
	w := &Worker{
		id:            id,
		languageModel: languageModel,
		acousticModel: acousticModel,
	}
	w.publish.Store(true)
	return w
}

// ID identifies this worker in outbound events.
func (w *Worker) ID() string {
	return w.id
}

// Publishing reports whether transcript events are emitted.
func (w *Worker) Publishing() bool {
	return w.publish.Load()
}

// SetPublishing sets the publish switch and reports whether it changed.
func (w *Worker) SetPublishing(enabled bool) bool {
	return w.publish.Swap(enabled) != enabled
}

// SuppressFlag exposes the competing-speaker flag to the pause gates.
func (w *Worker) SuppressFlag() *atomic.Bool {
	return &w.suppress
}

// Suppressed reports whether a competing speaker is active.
func (w *Worker) Suppressed() bool {
	return w.suppress.Load()
}

// SetSuppressed sets the competing-speaker flag and reports whether it changed.
func (w *Worker) SetSuppressed(active bool) bool {
	return w.suppress.Swap(active) != active
}

// Models returns the current language-model and acoustic-model ids.
func (w *Worker) Models() (languageModel, acousticModel string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.languageModel, w.acousticModel
}

// SetLanguageModel replaces the process-wide language-model id.
func (w *Worker) SetLanguageModel(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.languageModel = id
}

// SetAcousticModel replaces the process-wide acoustic-model id.
func (w *Worker) SetAcousticModel(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.acousticModel = id
}

// Keywords returns a copy of the recognition keyword list.
func (w *Worker) Keywords() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.keywords...)
}

// SetKeywords replaces the recognition keyword list.
func (w *Worker) SetKeywords(keywords []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keywords = append([]string(nil), keywords...)
}
