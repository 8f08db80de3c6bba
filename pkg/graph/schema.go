package graph

// graphSchema is the JSON Schema every graph document must satisfy before
// the arena is constructed. Structural invariants that need the indices
// (reachability, dangling references) live in Validate instead.
const graphSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://pathwise.io/schemas/process-graph.json",
  "type": "object",
  "required": ["id", "version", "status", "nodes", "edges", "entry_node_ids", "terminal_node_ids"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "status": {"enum": ["DRAFT", "PUBLISHED", "DEPRECATED"]},
    "entry_node_ids": {"type": "array", "items": {"type": "string"}, "minItems": 1},
    "terminal_node_ids": {"type": "array", "items": {"type": "string"}, "minItems": 1},
    "metadata": {"type": "object", "additionalProperties": {"type": "string"}},
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "action"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "preconditions": {"type": "array", "items": {"type": "string"}},
          "rules": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["id", "expression"],
              "properties": {
                "id": {"type": "string"},
                "expression": {"type": "string"}
              }
            }
          },
          "policy_gates": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["id", "type", "expression"],
              "properties": {
                "id": {"type": "string"},
                "type": {"enum": ["STATUTORY", "ADVISORY"]},
                "expression": {"type": "string"},
                "waiver_expression": {"type": "string"}
              }
            }
          },
          "runtime_policies": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["id", "expression"]
            }
          },
          "required_permissions": {"type": "array", "items": {"type": "string"}},
          "action": {
            "type": "object",
            "required": ["type"],
            "properties": {
              "type": {"enum": ["SYSTEM_INVOCATION", "HUMAN_TASK", "AGENT_ASSISTED", "COMPOSITE"]},
              "handler_ref": {"type": "string"},
              "config": {"type": "object"}
            }
          },
          "events": {
            "type": "object",
            "properties": {
              "subscribes": {"type": "array", "items": {"type": "string"}},
              "emits": {"type": "array", "items": {"type": "string"}}
            }
          }
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "source_node_id", "target_node_id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "source_node_id": {"type": "string", "minLength": 1},
          "target_node_id": {"type": "string", "minLength": 1},
          "semantics": {
            "type": "object",
            "properties": {
              "type": {"enum": ["SEQUENTIAL", "PARALLEL"]},
              "join_type": {"enum": ["ALL", "ANY", "N_OF_M"]},
              "join_n": {"type": "integer", "minimum": 1}
            }
          },
          "priority": {
            "type": "object",
            "properties": {
              "weight": {"type": "integer"},
              "rank": {"type": "integer"},
              "exclusive": {"type": "boolean"}
            }
          },
          "compensation": {
            "type": "object",
            "properties": {
              "strategy": {"enum": ["NONE", "RETRY", "ESCALATE", "COMPENSATE"]},
              "max_retries": {"type": "integer", "minimum": 0},
              "target_node_id": {"type": "string"}
            }
          }
        }
      }
    }
  }
}`
