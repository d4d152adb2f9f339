package streams

import "fmt"

// PayloadVersion is the current version of every run event payload.
const PayloadVersion = "v1"

// Definition describes a schema entry managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: "planning_started",
		Version:   PayloadVersion,
		Schema: []byte(`{
  "type": "object",
  "required": ["run_id"],
  "properties": {"run_id": {"type": "string", "minLength": 1}}
}`),
	},
	{
		EventType: "worker_started",
		Version:   PayloadVersion,
		Schema: []byte(`{
  "type": "object",
  "required": ["run_id", "worker_id", "round"],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "worker_id": {"type": "string", "minLength": 1},
    "round": {"type": "integer", "minimum": 0, "maximum": 3}
  }
}`),
	},
	{
		EventType: "worker_completed",
		Version:   PayloadVersion,
		Schema: []byte(`{
  "type": "object",
  "required": ["run_id", "worker_id", "round", "lead_count"],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "worker_id": {"type": "string", "minLength": 1},
    "round": {"type": "integer", "minimum": 0, "maximum": 3},
    "lead_count": {"type": "integer", "minimum": 0}
  }
}`),
	},
	{
		EventType: "compensation_decided",
		Version:   PayloadVersion,
		Schema: []byte(`{
  "type": "object",
  "required": ["run_id", "round", "actions"],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "round": {"type": "integer", "minimum": 1},
    "actions": {
      "type": "array",
      "maxItems": 2,
      "items": {
        "type": "object",
        "required": ["target_worker", "adjusted_parameters"],
        "properties": {
          "target_worker": {"type": "string", "minLength": 1},
          "adjusted_parameters": {"type": "object"}
        }
      }
    }
  }
}`),
	},
	{
		EventType: "run_completed",
		Version:   PayloadVersion,
		Schema: []byte(`{
  "type": "object",
  "required": ["run_id", "result"],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "result": {
      "type": "object",
      "required": ["leads", "per_source_counts", "target"],
      "properties": {
        "leads": {"type": "array"},
        "per_source_counts": {"type": "object"},
        "target": {"type": "integer", "minimum": 1}
      }
    }
  }
}`),
	},
	{
		EventType: "run_failed",
		Version:   PayloadVersion,
		Schema: []byte(`{
  "type": "object",
  "required": ["run_id", "reason"],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "reason": {"type": "string", "minLength": 1}
  }
}`),
	},
}

// RegisterDefaults loads the run event schemas into the registry.
func RegisterDefaults(reg *SchemaRegistry) error {
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}

// NewDefaultRegistry returns a registry with every run event schema registered.
func NewDefaultRegistry() (*SchemaRegistry, error) {
	reg := NewSchemaRegistry()
	if err := RegisterDefaults(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
