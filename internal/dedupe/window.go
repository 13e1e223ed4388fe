// ABOUTME: Thread-safe rolling window of recently seen message texts.
// ABOUTME: Suppresses repeated narration lines without unbounded history growth.

package dedupe

import (
	"container/list"
	"sync"
)

const defaultWindowSize = 8

// Window remembers the last N distinct texts. It answers "was this just
// said?" for narration deduplication; anything older than the window is
// forgotten, so a phrase may legitimately repeat later in a long session.
type Window struct {
	mu    sync.Mutex
	seen  map[string]*list.Element
	order *list.List // oldest at front
	size  int
}

// NewWindow creates a window holding up to size entries. Non-positive sizes
// select the default.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &Window{
		seen:  make(map[string]*list.Element),
		order: list.New(),
		size:  size,
	}
}

// Seen atomically checks whether text is in the window and records it if
// not. Returns true for a repeat, false for a fresh text. A repeat is
// refreshed to the back of the window.
func (w *Window) Seen(text string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if elem, ok := w.seen[text]; ok {
		w.order.MoveToBack(elem)
		return true
	}

	if w.order.Len() >= w.size {
		front := w.order.Front()
		w.order.Remove(front)
		delete(w.seen, front.Value.(string))
	}
	w.seen[text] = w.order.PushBack(text)
	return false
}

// Len reports the number of texts currently remembered.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.order.Len()
}
