package threshold

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk threshold definition:
//
//	questions:
//	  physicalConditionPanel:
//	    severity: [no defect, minor, major]   # ascending
//	    sides:
//	      top: {no defect: [0, 60], minor: [61, 80], major: [81, 100]}
//	label_merges:
//	  physicalConditionPanel: {glass panel damaged: cracked or broken panel}
//
// The flat form {question: {side: {category: [min, max]}}} is also accepted;
// severity is then derived from the ranges.
type Document struct {
	Questions   map[string]QuestionDoc       `json:"questions" yaml:"questions"`
	LabelMerges map[string]map[string]string `json:"label_merges,omitempty" yaml:"label_merges,omitempty"`
}

// QuestionDoc is one question's severity order and per-side ranges.
type QuestionDoc struct {
	Severity []string                     `json:"severity,omitempty" yaml:"severity,omitempty"`
	Sides    map[string]map[string][2]int `json:"sides" yaml:"sides"`
}

// Format is a threshold document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the encoding from a file extension; anything that is
// not .yaml/.yml is treated as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Load reads, schema-checks and validates a threshold document.
func Load(path string) (*Config, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	cfg, err := New(doc)
	if err != nil {
		return nil, err
	}
	zap.L().Info("threshold: loaded configuration",
		zap.String("path", path),
		zap.Strings("questions", cfg.Questions()),
	)
	return cfg, nil
}

// LoadDocument reads a threshold document from disk without building a Config.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, eris.Wrapf(err, "threshold: read %s", path)
	}
	return ParseDocument(data, FormatFromPath(path))
}

// ParseDocument decodes and schema-checks a threshold document.
func ParseDocument(data []byte, format Format) (Document, error) {
	var raw any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Document{}, eris.Wrap(err, "threshold: parse yaml")
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return Document{}, eris.Wrap(err, "threshold: parse json")
		}
	}

	// Round-trip through JSON so the schema sees JSON-native values whichever
	// encoding the document came in.
	canonical, err := json.Marshal(liftFlat(raw))
	if err != nil {
		return Document{}, eris.Wrap(err, "threshold: normalize document")
	}
	var parsed any
	if err := json.Unmarshal(canonical, &parsed); err != nil {
		return Document{}, eris.Wrap(err, "threshold: normalize document")
	}
	if err := validateSchema(parsed); err != nil {
		return Document{}, err
	}

	var doc Document
	if err := json.Unmarshal(canonical, &doc); err != nil {
		return Document{}, eris.Wrap(err, "threshold: decode document")
	}
	return doc, nil
}

// liftFlat rewrites the flat {question: {side: ranges}} form into the
// structured form. Structured documents pass through unchanged.
func liftFlat(raw any) any {
	top, ok := raw.(map[string]any)
	if !ok {
		return raw
	}
	if _, structured := top["questions"]; structured {
		return raw
	}
	questions := make(map[string]any, len(top))
	for name, sides := range top {
		questions[name] = map[string]any{"sides": sides}
	}
	return map[string]any{"questions": questions}
}

// Document renders the configuration back into its document form.
func (c *Config) Document() Document {
	doc := Document{
		Questions:   make(map[string]QuestionDoc, len(c.questions)),
		LabelMerges: copyMerges(c.merges),
	}
	for name, q := range c.questions {
		qd := QuestionDoc{
			Severity: q.Severity(),
			Sides:    make(map[string]map[string][2]int),
		}
		for _, side := range q.Sides() {
			cats := make(map[string][2]int)
			for _, r := range q.sides[side] {
				cats[r.Category] = [2]int{r.Min, r.Max}
			}
			qd.Sides[side.String()] = cats
		}
		doc.Questions[name] = qd
	}
	return doc
}

// WriteDocument encodes a document in the given format.
func WriteDocument(w io.Writer, doc Document, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return eris.Wrap(err, "threshold: encode yaml")
		}
		return eris.Wrap(enc.Close(), "threshold: flush yaml")
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return eris.Wrap(err, "threshold: encode json")
		}
		return nil
	}
}
