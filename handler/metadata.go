package handler

import (
	"bytes"

	"github.com/c360/metaingest/document"
	"github.com/c360/metaingest/record"
)

// MetadataHandler re-encodes the whole document into one STRING attribute,
// and optionally records the root element name as the content type.
type MetadataHandler struct {
	name        string
	attribute   string
	contentType string
	buf         bytes.Buffer
	enc         *document.Encoder
	root        document.Name
	seen        bool
}

// NewMetadataHandler returns a factory. name and attribute default to
// "metadata"; an empty contentType disables the content type contribution.
func NewMetadataHandler(name, attribute, contentType string) Factory {
	if attribute == "" {
		attribute = "metadata"
	}
	if name == "" {
		name = "metadata"
	}
	return func(*record.Schema) Handler {
		h := &MetadataHandler{name: name, attribute: attribute, contentType: contentType}
		h.enc = document.NewEncoder(&h.buf)
		return h
	}
}

func (h *MetadataHandler) Name() string { return h.name }

func (h *MetadataHandler) Interested(k document.Kind) bool {
	return k != document.KindDocumentStart
}

func (h *MetadataHandler) Handle(ev document.Event, path Path) error {
	switch ev.Kind {
	case document.KindDocumentEnd:
		return h.enc.Flush()
	case document.KindElementStart:
		if len(path) == 1 {
			h.root = ev.Name
		}
	}
	h.seen = true
	return h.enc.Write(ev)
}

func (h *MetadataHandler) Contributions() []Contribution {
	if !h.seen {
		return nil
	}
	out := []Contribution{{Attribute: h.attribute, Values: []record.Value{record.StringValue(h.buf.String())}}}
	if h.contentType != "" && h.root.Local != "" {
		out = append(out, Contribution{
			Attribute: h.contentType,
			Values:    []record.Value{record.StringValue(h.root.String())},
		})
	}
	return out
}
