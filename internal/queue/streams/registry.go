package streams

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaRegistry stores compiled JSON Schemas keyed by event type and payload version.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]map[string]*gojsonschema.Schema
}

// NewSchemaRegistry constructs an empty registry instance.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]map[string]*gojsonschema.Schema)}
}

// Register compiles and stores a JSON schema for the given event type and version.
func (r *SchemaRegistry) Register(eventType, version string, schemaBytes []byte) error {
	if eventType == "" {
		return fmt.Errorf("eventType must be provided")
	}
	if version == "" {
		return fmt.Errorf("version must be provided")
	}
	if len(schemaBytes) == 0 {
		return fmt.Errorf("schemaBytes is empty")
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaBytes))
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schemas[eventType]; !ok {
		r.schemas[eventType] = make(map[string]*gojsonschema.Schema)
	}
	r.schemas[eventType][version] = compiled
	return nil
}

// Validate checks payload bytes against the registered schema for event type/version.
func (r *SchemaRegistry) Validate(eventType, version string, payload []byte) error {
	if eventType == "" {
		return fmt.Errorf("eventType must be provided")
	}
	if version == "" {
		return fmt.Errorf("version must be provided")
	}

	r.mu.RLock()
	versions, ok := r.schemas[eventType]
	var schema *gojsonschema.Schema
	if ok {
		schema, ok = versions[version]
	}
	r.mu.RUnlock()
	if versions == nil {
		return fmt.Errorf("no schema registered for event type %q", eventType)
	}
	if !ok {
		return fmt.Errorf("no schema registered for event %q version %q", eventType, version)
	}

	if len(payload) == 0 {
		return fmt.Errorf("payload is empty")
	}

	res, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("payload validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}
