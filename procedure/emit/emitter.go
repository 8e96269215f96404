// Package emit delivers engine events to logging and tracing backends.
package emit

// Emitter receives events from a running procedure.
//
// Implementations must be safe for concurrent use and must not panic. The
// engine calls Emit synchronously, so slow backends should buffer.
type Emitter interface {
	Emit(event Event)
}

// Multi fans every event out to each emitter in order.
type Multi []Emitter

// Emit implements Emitter. Nil entries are skipped.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
