package document

import (
	"io"
)

// Kind discriminates parse events.
type Kind int

const (
	KindDocumentStart Kind = iota
	KindElementStart
	KindText
	KindElementEnd
	KindDocumentEnd
)

func (k Kind) String() string {
	switch k {
	case KindDocumentStart:
		return "DocumentStart"
	case KindElementStart:
		return "ElementStart"
	case KindText:
		return "Text"
	case KindElementEnd:
		return "ElementEnd"
	case KindDocumentEnd:
		return "DocumentEnd"
	default:
		return "Unknown"
	}
}

// Name is an element or attribute name. Space holds the namespace URI when the
// producer resolves one.
type Name struct {
	Space string
	Local string
}

func (n Name) String() string {
	if n.Space == "" {
		return n.Local
	}
	return "{" + n.Space + "}" + n.Local
}

// Attr is an element attribute.
type Attr struct {
	Name  Name
	Value string
}

// Event is one parse event in document order. Name and Attrs are set for
// element events, Text for text events.
type Event struct {
	Kind  Kind
	Name  Name
	Attrs []Attr
	Text  string
}

// Attr returns the value of the attribute with the given local name.
func (e Event) Attr(local string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

func DocumentStart() Event {
	return Event{Kind: KindDocumentStart}
}

func DocumentEnd() Event {
	return Event{Kind: KindDocumentEnd}
}

// ElementStart builds a start event for an unqualified element.
func ElementStart(local string, attrs ...Attr) Event {
	return Event{Kind: KindElementStart, Name: Name{Local: local}, Attrs: attrs}
}

// ElementStartNS builds a start event for a namespaced element.
func ElementStartNS(space, local string, attrs ...Attr) Event {
	return Event{Kind: KindElementStart, Name: Name{Space: space, Local: local}, Attrs: attrs}
}

func ElementEnd(local string) Event {
	return Event{Kind: KindElementEnd, Name: Name{Local: local}}
}

func ElementEndNS(space, local string) Event {
	return Event{Kind: KindElementEnd, Name: Name{Space: space, Local: local}}
}

func Text(content string) Event {
	return Event{Kind: KindText, Text: content}
}

// A returns an unqualified attribute.
func A(local, value string) Attr {
	return Attr{Name: Name{Local: local}, Value: value}
}

// Source produces events in document order. Next returns io.EOF once the
// stream is exhausted.
type Source interface {
	Next() (Event, error)
}

// SliceSource replays a fixed event list.
type SliceSource struct {
	events []Event
	pos    int
}

// Events returns a Source over evs.
func Events(evs ...Event) *SliceSource {
	return &SliceSource{events: evs}
}

func (s *SliceSource) Next() (Event, error) {
	if s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

// Collect drains src into a slice.
func Collect(src Source) ([]Event, error) {
	var out []Event
	for {
		ev, err := src.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}
