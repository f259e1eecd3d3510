package trace

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Format selects the wire shape of emitted events.
type Format uint8

const (
	FormatAuto   Format = iota // pick from the output path
	FormatText                 // aligned human-readable lines
	FormatNDJSON               // one JSON object per line
)

// FormatEvent renders one event, newline included.
func FormatEvent(ev *Event, format Format) []byte {
	if format == FormatNDJSON {
		return formatNDJSON(ev)
	}
	return formatText(ev)
}

type jsonEvent struct {
	Time     string            `json:"time"`
	Seq      uint64            `json:"seq"`
	Kind     string            `json:"kind"`
	Scope    string            `json:"scope"`
	SpanID   uint64            `json:"span_id,omitempty"`
	ParentID uint64            `json:"parent_id,omitempty"`
	CPU      int32             `json:"cpu"`
	Task     uint64            `json:"task,omitempty"`
	Name     string            `json:"name"`
	Detail   string            `json:"detail,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

func formatNDJSON(ev *Event) []byte {
	data, _ := json.Marshal(jsonEvent{
		Time:     ev.Time.Format(time.RFC3339Nano),
		Seq:      ev.Seq,
		Kind:     ev.Kind.String(),
		Scope:    ev.Scope.String(),
		SpanID:   ev.SpanID,
		ParentID: ev.ParentID,
		CPU:      ev.CPU,
		Task:     ev.Task,
		Name:     ev.Name,
		Detail:   ev.Detail,
		Extra:    ev.Extra,
	})
	return append(data, '\n')
}

// kindMarkers gives each kind a one-glyph column so text traces scan
// vertically: begin/end bracket spans, points are dots, faults shout.
var kindMarkers = [...]string{"?", "→", "←", "•", "!", "♡"}

func formatText(ev *Event) []byte {
	var sb strings.Builder

	fmt.Fprintf(&sb, "[%8d] ", ev.Seq)
	if ev.CPU >= 0 {
		fmt.Fprintf(&sb, "cpu%-2d ", ev.CPU)
	} else {
		sb.WriteString("cpu?  ")
	}
	if ev.Task != 0 {
		fmt.Fprintf(&sb, "t%-4d ", ev.Task)
	} else {
		sb.WriteString("      ")
	}

	marker := kindMarkers[0]
	if int(ev.Kind) < len(kindMarkers) {
		marker = kindMarkers[ev.Kind]
	}
	sb.WriteString(marker)
	sb.WriteString(" ")
	sb.WriteString(ev.Name)

	if ev.Detail != "" {
		fmt.Fprintf(&sb, " (%s)", ev.Detail)
	}

	// Extra keys print sorted so identical runs produce identical traces.
	if len(ev.Extra) > 0 {
		keys := make([]string, 0, len(ev.Extra))
		for k := range ev.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(ev.Extra[k])
		}
		sb.WriteString("}")
	}

	sb.WriteString("\n")
	return []byte(sb.String())
}
