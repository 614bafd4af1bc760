package config

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var configSchema string

// SchemaRegistry holds the compiled configuration schema. All values it
// produces share one cue.Context, which is not safe for concurrent use, so
// access is serialized.
type SchemaRegistry struct {
	mu   sync.Mutex
	ctx  *cue.Context
	root cue.Value
}

// NewSchemaRegistry compiles the embedded schema.
func NewSchemaRegistry() (*SchemaRegistry, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(configSchema, cue.Filename("schema.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	return &SchemaRegistry{ctx: ctx, root: root}, nil
}

// Definition returns a schema definition such as "#Config".
func (sr *SchemaRegistry) Definition(name string) (cue.Value, bool) {
	v := sr.root.LookupPath(cue.ParsePath(name))
	return v, v.Exists()
}

// Definitions lists the definitions in the schema.
func (sr *SchemaRegistry) Definitions() []string {
	var names []string
	iter, err := sr.root.Fields(cue.Definitions(true))
	if err != nil {
		return nil
	}
	for iter.Next() {
		if iter.Selector().IsDefinition() {
			names = append(names, iter.Selector().String())
		}
	}
	return names
}

// ValidateAgainstSchema checks Go data against a named definition.
func (sr *SchemaRegistry) ValidateAgainstSchema(name string, data interface{}) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.Definition(name)
	if !ok {
		return fmt.Errorf("schema %s not found", name)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if err := schema.Unify(dataVal).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
