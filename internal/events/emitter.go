// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Emitter writes events to an output stream, one line per event, in either
// human-readable or JSON form.
type Emitter struct {
	mu   sync.Mutex
	seq  int64
	out  io.Writer
	json bool
}

// NewEmitter returns an emitter writing to out. A nil writer yields a nil
// emitter, which is safe to use.
func NewEmitter(out io.Writer, asJSON bool) *Emitter {
	if out == nil {
		return nil
	}
	return &Emitter{out: out, json: asJSON}
}

func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	ev.Sequence = e.seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if e.json {
		payload, err := json.Marshal(ev)
		if err != nil {
			fmt.Fprintf(e.out, "{\"error\":%q}\n", err.Error())
			return
		}
		fmt.Fprintf(e.out, "%s\n", payload)
		return
	}

	fmt.Fprintf(e.out, "[%d] %s", ev.Sequence, ev.Type)
	if ev.PlanID != "" {
		fmt.Fprintf(e.out, " plan=%s", ev.PlanID)
	}
	if ev.Step != "" {
		fmt.Fprintf(e.out, " step=%s", ev.Step)
	}
	if ev.Message != "" {
		fmt.Fprintf(e.out, " msg=%s", ev.Message)
	}
	if len(ev.Data) > 0 {
		keys := make([]string, 0, len(ev.Data))
		for k := range ev.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(e.out, " data={")
		for i, k := range keys {
			if i > 0 {
				fmt.Fprintf(e.out, ", ")
			}
			fmt.Fprintf(e.out, "%s:%v", k, ev.Data[k])
		}
		fmt.Fprintf(e.out, "}")
	}
	fmt.Fprintln(e.out)
}
