package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter writes one line per event to a writer, either as text:
//
//	[step_completed] runID=5f0c... stage=2 step=h_importdata meta={"duration_ms":12}
//
// or, in JSON mode, as a JSON object per line.
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter. A nil writer means os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		RunID string                 `json:"runID"`
		Stage int                    `json:"stage"`
		Step  string                 `json:"step,omitempty"`
		Msg   string                 `json:"msg"`
		Meta  map[string]interface{} `json:"meta,omitempty"`
	}{
		RunID: event.RunID,
		Stage: event.Stage,
		Step:  event.Step,
		Msg:   event.Msg,
		Meta:  event.Meta,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] runID=%s stage=%d", event.Msg, event.RunID, event.Stage)
	if event.Step != "" {
		fmt.Fprintf(l.writer, " step=%s", event.Step)
	}
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}
	fmt.Fprint(l.writer, "\n")
}
