package commands

import "strings"

// Signal kinds understood by the overlay widgets.
const (
	SignalInstantPlay = "InstantPlay"
	SignalQueueAdd    = "QueueAdd"
	SignalSkip        = "Skip"
	SignalStop        = "Stop"
	SignalPause       = "Pause"
	SignalResume      = "Resume"
	SignalQueueCheck  = "QueueCheck"
)

// emptyFieldPlaceholder keeps field positions stable when a value is absent;
// overlay parsers split on spaces and rely on field order.
const emptyFieldPlaceholder = "-"

// Signal is a typed overlay event. It is serialized onto the chat channel as
// a bracketed line only at the publish boundary; nothing inside the core
// depends on the text format.
type Signal struct {
	Kind   string
	Fields []string
}

// Render serializes the signal as "[<Kind>] <field1> <field2> ...". Empty
// fields become a placeholder so field order survives, and embedded spaces
// are collapsed since the wire format is space-delimited.
func (s Signal) Render() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(s.Kind)
	b.WriteString("]")
	for _, f := range s.Fields {
		b.WriteString(" ")
		f = strings.Join(strings.Fields(f), "_")
		if f == "" {
			f = emptyFieldPlaceholder
		}
		b.WriteString(f)
	}
	return b.String()
}
