package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/c360/metaingest/document"
	"github.com/c360/metaingest/ingest"
	"github.com/c360/metaingest/record"
)

// DefaultExtractionTarget receives extracted text unless configured otherwise.
const DefaultExtractionTarget = "ext.extracted.text"

// TextExtractionConfig configures a text extraction stage.
type TextExtractionConfig struct {
	Sources   []string `json:"sources,omitempty"`
	Target    string   `json:"target,omitempty"`
	Separator string   `json:"separator,omitempty"`
	// MaxLength caps the extracted text in runes. Zero means no cap.
	MaxLength int `json:"max_length,omitempty"`
}

func (c *TextExtractionConfig) applyDefaults() {
	if len(c.Sources) == 0 {
		c.Sources = []string{"title", "description", "metadata"}
	}
	if c.Target == "" {
		c.Target = DefaultExtractionTarget
	}
	if c.Separator == "" {
		c.Separator = "\n"
	}
}

// TextExtractionStage gathers the text of source attributes into one STRING
// attribute for full text search. XML documents, such as the metadata
// attribute, contribute their character data only. A value that merely
// starts with '<' but does not parse as XML contributes its raw text.
type TextExtractionStage struct {
	name string
	cfg  TextExtractionConfig
}

// NewTextExtractionStage returns a stage with cfg's defaults applied.
func NewTextExtractionStage(name string, cfg TextExtractionConfig) *TextExtractionStage {
	if name == "" {
		name = TypeTextExtraction
	}
	cfg.applyDefaults()
	return &TextExtractionStage{name: name, cfg: cfg}
}

func (s *TextExtractionStage) Name() string { return s.name }

func (s *TextExtractionStage) Kinds() ingest.KindSet {
	return ingest.Kinds(ingest.KindCreate, ingest.KindUpdate)
}

func (s *TextExtractionStage) Process(_ context.Context, req *ingest.Request) ingest.Result {
	rec := req.Record()
	var parts []string
	for _, src := range s.cfg.Sources {
		for _, v := range rec.Get(src) {
			if text := valueText(v); text != "" {
				parts = append(parts, text)
			}
		}
	}
	if len(parts) == 0 {
		return ingest.Continue(req)
	}

	text := strings.Join(parts, s.cfg.Separator)
	if s.cfg.MaxLength > 0 && utf8.RuneCountInString(text) > s.cfg.MaxLength {
		text = string([]rune(text)[:s.cfg.MaxLength])
	}
	if err := rec.Set(s.cfg.Target, record.StringValue(text)); err != nil {
		return ingest.Fail(err)
	}
	return ingest.Continue(req)
}

func valueText(v record.Value) string {
	s, ok := v.AsString()
	if !ok || v.Kind() != record.TypeString {
		return ""
	}
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "<") {
		return s
	}
	text, err := characterData(s)
	if err != nil {
		return s
	}
	return text
}

// characterData returns the whitespace-normalized text content of an XML
// document.
func characterData(doc string) (string, error) {
	r := document.NewXMLReader(strings.NewReader(doc))
	var b strings.Builder
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if ev.Kind != document.KindText {
			continue
		}
		for _, f := range strings.Fields(ev.Text) {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(f)
		}
	}
	return b.String(), nil
}

func newTextExtractionStage(raw json.RawMessage, _ Dependencies) (ingest.Stage, error) {
	var cfg TextExtractionConfig
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.MaxLength < 0 {
		return nil, fmt.Errorf("max_length must not be negative")
	}
	return NewTextExtractionStage(TypeTextExtraction, cfg), nil
}
