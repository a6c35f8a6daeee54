package bus

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidPayload marks a publish-time schema mismatch. The call fails,
// the producer keeps running.
var ErrInvalidPayload = errors.New("invalid payload")

// SchemaRegistry maps topic names to compiled JSON Schemas. It is the one
// piece of process-wide state in the twin: every component validates
// against the same catalogue. Topics without a registered schema validate
// as a no-op.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// Registry is the process-wide schema registry, populated by init() in
// schemas.go with one entry per recognized topic.
var Registry = NewSchemaRegistry()

// NewSchemaRegistry returns an empty registry. Production code uses the
// package-level Registry; tests may build their own.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*gojsonschema.Schema)}
}

// Register compiles and stores the JSON Schema for a topic, replacing any
// previous entry.
func (r *SchemaRegistry) Register(topic, schema string) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", topic, err)
	}
	r.mu.Lock()
	r.schemas[topic] = compiled
	r.mu.Unlock()
	return nil
}

// MustRegister is Register for the static catalogue in schemas.go; a
// malformed built-in schema is a programmer error.
func (r *SchemaRegistry) MustRegister(topic, schema string) {
	if err := r.Register(topic, schema); err != nil {
		panic(err)
	}
}

// Validate checks doc against the topic's schema. Unknown topics pass.
// Schema violations return ErrInvalidPayload with the violation list.
func (r *SchemaRegistry) Validate(topic string, doc []byte) error {
	r.mu.RLock()
	schema := r.schemas[topic]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: topic %s: %v", ErrInvalidPayload, topic, err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return fmt.Errorf("%w: topic %s: %s", ErrInvalidPayload, topic, strings.Join(details, "; "))
	}
	return nil
}

// Known reports whether the topic has a registered schema.
func (r *SchemaRegistry) Known(topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[topic]
	return ok
}

// Topics lists the registered topic names, sorted.
func (r *SchemaRegistry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
