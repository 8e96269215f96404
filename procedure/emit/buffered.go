package emit

import "sync"

// BufferedEmitter keeps every event in memory, grouped by run ID.
//
// It backs tests and post-run inspection. Nothing is ever evicted, so call
// Clear for long-lived processes.
//
//	emitter := emit.NewBufferedEmitter()
//	// ... run ...
//	failures := emitter.GetHistoryWithFilter(runID, emit.HistoryFilter{Msg: emit.MsgStepFailed})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// HistoryFilter selects events. Empty fields match everything; set fields
// are combined with AND.
type HistoryFilter struct {
	Step     string
	Msg      string
	MinStage *int
	MaxStage *int
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit implements Emitter.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory returns a copy of every event for runID in emission order.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	return b.GetHistoryWithFilter(runID, HistoryFilter{})
}

// GetHistoryWithFilter returns the events for runID that match filter.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[runID] {
		if filter.matches(event) {
			result = append(result, event)
		}
	}
	return result
}

// Steps returns the names of the steps that reached msg for runID, in order.
// Useful with MsgStepStarted to recover the dispatch sequence.
func (b *BufferedEmitter) Steps(runID, msg string) []string {
	var names []string
	for _, event := range b.GetHistoryWithFilter(runID, HistoryFilter{Msg: msg}) {
		names = append(names, event.Step)
	}
	return names
}

// RunIDs returns every run ID with buffered events.
func (b *BufferedEmitter) RunIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.events))
	for id := range b.events {
		ids = append(ids, id)
	}
	return ids
}

// Clear drops events for runID, or every event when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}

func (f HistoryFilter) matches(event Event) bool {
	if f.Step != "" && event.Step != f.Step {
		return false
	}
	if f.Msg != "" && event.Msg != f.Msg {
		return false
	}
	if f.MinStage != nil && event.Stage < *f.MinStage {
		return false
	}
	if f.MaxStage != nil && event.Stage > *f.MaxStage {
		return false
	}
	return true
}
