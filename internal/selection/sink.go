// Package selection carries "select rooms by name" requests out of a conversation to
// whatever owns the visual selection.
package selection

import (
	"sync"
)

// Sink receives room selections. Select is fire-and-forget; names that do not exist in
// the dataset are the sink's concern.
type Sink interface {
	Select(names []string)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(names []string)

func (f SinkFunc) Select(names []string) { f(names) }

// Discard ignores every selection.
var Discard Sink = SinkFunc(func([]string) {})

// Recorder keeps every selection it receives, in order.
type Recorder struct {
	mu         sync.Mutex
	selections [][]string
}

func (r *Recorder) Select(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selections = append(r.selections, append([]string(nil), names...))
}

// Selections returns a copy of the recorded selections.
func (r *Recorder) Selections() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.selections))
	for i, s := range r.selections {
		out[i] = append([]string(nil), s...)
	}
	return out
}

// Last returns the most recent selection, or nil.
func (r *Recorder) Last() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.selections) == 0 {
		return nil
	}
	return append([]string(nil), r.selections[len(r.selections)-1]...)
}

// Tee forwards each selection to every sink in order.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(names []string) {
		for _, s := range sinks {
			if s != nil {
				s.Select(names)
			}
		}
	})
}
