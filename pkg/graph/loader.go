package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/pathwise-io/pathwise/pkg/contracts"
)

// Loader parses graph documents (JSON or YAML), validates them against the
// embedded schema and constructs the indexed arena.
type Loader struct {
	schema *jsonschema.Schema
	parser Parser
}

// NewLoader compiles the embedded document schema. The parser, when non-nil,
// is used for expression dry-parsing during Validate.
func NewLoader(parser Parser) (*Loader, error) {
	schema, err := jsonschema.CompileString("process-graph.json", graphSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile graph schema: %w", err)
	}
	return &Loader{schema: schema, parser: parser}, nil
}

// Load parses and schema-validates a document, then builds the arena.
// Format is chosen by content: documents starting with '{' parse as JSON,
// anything else as YAML.
func (l *Loader) Load(doc []byte) (*Graph, error) {
	var generic any
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &generic); err != nil {
			return nil, fmt.Errorf("graph document is not valid JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &generic); err != nil {
			return nil, fmt.Errorf("graph document is not valid YAML: %w", err)
		}
		generic = normalizeYAML(generic)
	}

	if err := l.schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("graph document failed schema validation: %w", err)
	}

	// Re-marshal the generic form so JSON and YAML documents share one
	// decoding path into the typed definition.
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize graph document: %w", err)
	}
	var def contracts.GraphDef
	if err := json.Unmarshal(canonical, &def); err != nil {
		return nil, fmt.Errorf("failed to decode graph document: %w", err)
	}
	return New(def), nil
}

// LoadFile reads and loads a graph document from disk.
func (l *Loader) LoadFile(path string) (*Graph, error) {
	doc, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read graph document: %w", err)
	}
	return l.Load(doc)
}

// LoadPublished loads a document and requires it to be publishable: status
// PUBLISHED and zero validation errors.
func (l *Loader) LoadPublished(doc []byte) (*Graph, error) {
	g, err := l.Load(doc)
	if err != nil {
		return nil, err
	}
	if g.Status() != contracts.GraphPublished {
		return nil, contracts.NewError(contracts.KindInvalidState, "graph "+g.ID()+" is "+string(g.Status())+", not PUBLISHED")
	}
	if errs := g.Validate(l.parser); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, contracts.NewError(contracts.KindInvalidState, "graph "+g.ID()+" failed validation: "+strings.Join(msgs, "; "))
	}
	return g, nil
}

// normalizeYAML converts yaml.v3's map[string]any/any trees into the
// map[string]any form jsonschema and encoding/json expect.
func normalizeYAML(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = normalizeYAML(vv)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(vv)
		}
		return out
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return v
	}
}
