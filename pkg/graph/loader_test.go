package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathwise-io/pathwise/pkg/contracts"
)

const yamlDoc = `
id: refund-flow
version: 2.1.0
status: PUBLISHED
entry_node_ids: [receive]
terminal_node_ids: [done]
nodes:
  - id: receive
    name: Receive request
    action:
      type: SYSTEM_INVOCATION
      handler_ref: refunds.receive
  - id: done
    name: Done
    action:
      type: SYSTEM_INVOCATION
      handler_ref: refunds.close
edges:
  - id: e_receive_done
    source_node_id: receive
    target_node_id: done
    semantics:
      type: SEQUENTIAL
    priority:
      weight: 10
`

const jsonDoc = `{
  "id": "refund-flow",
  "version": "2.1.0",
  "status": "PUBLISHED",
  "entry_node_ids": ["receive"],
  "terminal_node_ids": ["done"],
  "nodes": [
    {"id": "receive", "name": "Receive request", "action": {"type": "SYSTEM_INVOCATION", "handler_ref": "refunds.receive"}},
    {"id": "done", "name": "Done", "action": {"type": "SYSTEM_INVOCATION", "handler_ref": "refunds.close"}}
  ],
  "edges": [
    {"id": "e_receive_done", "source_node_id": "receive", "target_node_id": "done",
     "semantics": {"type": "SEQUENTIAL"}, "priority": {"weight": 10}}
  ]
}`

func TestLoad_YAMLAndJSONDecodeIdentically(t *testing.T) {
	l, err := NewLoader(nil)
	require.NoError(t, err)

	fromYAML, err := l.Load([]byte(yamlDoc))
	require.NoError(t, err)
	fromJSON, err := l.Load([]byte(jsonDoc))
	require.NoError(t, err)

	assert.Equal(t, fromJSON.Def(), fromYAML.Def())
	assert.Equal(t, "refund-flow", fromYAML.ID())
	assert.Equal(t, "2.1.0", fromYAML.Version())

	e, ok := fromYAML.Edge("e_receive_done")
	require.True(t, ok)
	assert.Equal(t, contracts.SemanticsSequential, e.Semantics.Type)
	assert.Equal(t, 10, e.Priority.Weight)
}

func TestLoad_RejectsSchemaViolations(t *testing.T) {
	l, err := NewLoader(nil)
	require.NoError(t, err)

	cases := []struct {
		name string
		doc  string
	}{
		{"missing version", `{"id": "x", "status": "DRAFT", "nodes": [], "edges": [], "entry_node_ids": ["a"], "terminal_node_ids": ["a"]}`},
		{"bad status", `{"id": "x", "version": "1.0.0", "status": "LIVE", "nodes": [], "edges": [], "entry_node_ids": ["a"], "terminal_node_ids": ["a"]}`},
		{"empty entry list", `{"id": "x", "version": "1.0.0", "status": "DRAFT", "nodes": [], "edges": [], "entry_node_ids": [], "terminal_node_ids": ["a"]}`},
		{"not json or yaml", `{{{{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.Load([]byte(tc.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	l, err := NewLoader(nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	g, err := l.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "refund-flow", g.ID())

	_, err = l.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadPublished_RejectsDraftAndInvalid(t *testing.T) {
	l, err := NewLoader(nil)
	require.NoError(t, err)

	draft := `{"id": "x", "version": "1.0.0", "status": "DRAFT",
	  "nodes": [{"id": "a", "name": "A", "action": {"type": "SYSTEM_INVOCATION"}}],
	  "edges": [], "entry_node_ids": ["a"], "terminal_node_ids": ["a"]}`
	_, err = l.LoadPublished([]byte(draft))
	require.Error(t, err)
	assert.True(t, contracts.IsKind(err, contracts.KindInvalidState))

	// Published but structurally broken: terminal node missing.
	broken := `{"id": "x", "version": "1.0.0", "status": "PUBLISHED",
	  "nodes": [{"id": "a", "name": "A", "action": {"type": "SYSTEM_INVOCATION"}}],
	  "edges": [], "entry_node_ids": ["a"], "terminal_node_ids": ["ghost"]}`
	_, err = l.LoadPublished([]byte(broken))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed validation")

	_, err = l.LoadPublished([]byte(jsonDoc))
	assert.NoError(t, err)
}
