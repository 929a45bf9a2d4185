package document

import (
	"encoding/xml"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/c360/metaingest/errors"
)

// XMLReader turns an XML byte stream into parse events. It emits
// DocumentStart before the first token and DocumentEnd once the decoder
// reaches a clean end of input. Whitespace-only text is dropped unless
// KeepWhitespace is set. Comments, processing instructions and directives
// are skipped.
type XMLReader struct {
	dec            *xml.Decoder
	started        bool
	finished       bool
	KeepWhitespace bool
}

// NewXMLReader wraps r.
func NewXMLReader(r io.Reader) *XMLReader {
	dec := xml.NewDecoder(r)
	dec.Strict = true
	return &XMLReader{dec: dec}
}

// Next returns the next event.
func (x *XMLReader) Next() (Event, error) {
	if !x.started {
		x.started = true
		return DocumentStart(), nil
	}
	if x.finished {
		return Event{}, io.EOF
	}
	for {
		tok, err := x.dec.Token()
		if err == io.EOF {
			x.finished = true
			return DocumentEnd(), nil
		}
		if err != nil {
			return Event{}, classifyXMLError(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var attrs []Attr
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
					continue
				}
				attrs = append(attrs, Attr{Name: Name{Space: a.Name.Space, Local: a.Name.Local}, Value: a.Value})
			}
			return Event{Kind: KindElementStart, Name: Name{Space: t.Name.Space, Local: t.Name.Local}, Attrs: attrs}, nil
		case xml.EndElement:
			return ElementEndNS(t.Name.Space, t.Name.Local), nil
		case xml.CharData:
			text := string(t)
			if !x.KeepWhitespace && strings.TrimSpace(text) == "" {
				continue
			}
			return Text(text), nil
		}
	}
}

func classifyXMLError(err error) error {
	var syntaxErr *xml.SyntaxError
	if stderrors.As(err, &syntaxErr) {
		if strings.Contains(syntaxErr.Msg, "unexpected EOF") {
			return fmt.Errorf("%w: line %d: %s", errors.ErrIncompleteDocument, syntaxErr.Line, syntaxErr.Msg)
		}
		return fmt.Errorf("%w: line %d: %s", errors.ErrMalformedStructure, syntaxErr.Line, syntaxErr.Msg)
	}
	if stderrors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", errors.ErrIncompleteDocument, err)
	}
	return errors.WrapTransient(err, "XMLReader", "Next", "read document")
}

// Encoder writes element events as XML. Document boundary events are
// accepted and ignored. Namespaced names get an xmlns attribute the first
// time a namespace appears on an element.
type Encoder struct {
	enc *xml.Encoder
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: xml.NewEncoder(w)}
}

// Write encodes one event. Unbalanced element events fail with
// ErrMalformedStructure.
func (e *Encoder) Write(ev Event) error {
	var tok xml.Token
	switch ev.Kind {
	case KindElementStart:
		start := xml.StartElement{Name: xml.Name{Space: ev.Name.Space, Local: ev.Name.Local}}
		for _, a := range ev.Attrs {
			start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Space: a.Name.Space, Local: a.Name.Local}, Value: a.Value})
		}
		tok = start
	case KindElementEnd:
		tok = xml.EndElement{Name: xml.Name{Space: ev.Name.Space, Local: ev.Name.Local}}
	case KindText:
		tok = xml.CharData(ev.Text)
	default:
		return nil
	}
	if err := e.enc.EncodeToken(tok); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrMalformedStructure, err)
	}
	return nil
}

// Flush writes buffered output.
func (e *Encoder) Flush() error {
	return e.enc.Flush()
}

// Encode writes every event of src.
func Encode(w io.Writer, src Source) error {
	enc := NewEncoder(w)
	for {
		ev, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := enc.Write(ev); err != nil {
			return err
		}
	}
	return enc.Flush()
}
