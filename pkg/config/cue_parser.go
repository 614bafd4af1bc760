package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ValidationError is a configuration problem with its location when known.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// LoadError collects every problem found while loading.
type LoadError struct {
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.String()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Parser loads configuration files against the embedded schema. CUE, YAML
// and JSON files are accepted; several files are unified, so a value set
// twice must agree.
type Parser struct {
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewParser creates a parser.
func NewParser() (*Parser, error) {
	schemas, err := NewSchemaRegistry()
	if err != nil {
		return nil, err
	}
	return &Parser{schemas: schemas, validator: validator.New()}, nil
}

// Load reads a configuration from one or more files. With no paths it
// returns DefaultConfig.
func Load(paths ...string) (*Config, error) {
	p, err := NewParser()
	if err != nil {
		return nil, err
	}
	return p.Load(paths...)
}

// Load reads and validates the given files on top of DefaultConfig.
func (p *Parser) Load(paths ...string) (*Config, error) {
	cfg := DefaultConfig()
	if len(paths) == 0 {
		return cfg, p.Validate(cfg)
	}

	p.schemas.mu.Lock()
	data, errs := p.unify(paths)
	p.schemas.mu.Unlock()
	if len(errs) > 0 {
		return nil, &LoadError{Errors: errs}
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := p.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseInline loads CUE or JSON source held in memory.
func (p *Parser) ParseInline(content string) (*Config, error) {
	p.schemas.mu.Lock()
	val := p.schemas.ctx.CompileString(content, cue.Filename("inline"))
	data, errs := p.finish(val)
	p.schemas.mu.Unlock()
	if len(errs) > 0 {
		return nil, &LoadError{Errors: errs}
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := p.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs the struct-level checks that the schema cannot express.
func (p *Parser) Validate(cfg *Config) error {
	if err := p.validator.Struct(cfg); err != nil {
		return &LoadError{Errors: convertValidatorErrors(err)}
	}
	if err := cfg.WorkflowConfig().Validate(); err != nil {
		return &LoadError{Errors: []ValidationError{{Path: "engine", Message: err.Error()}}}
	}
	return nil
}

func (p *Parser) unify(paths []string) ([]byte, []ValidationError) {
	var value cue.Value
	var errs []ValidationError

	for _, path := range paths {
		val, fileErrs := p.loadFile(path)
		if len(fileErrs) > 0 {
			errs = append(errs, fileErrs...)
			continue
		}
		if value.Exists() {
			value = value.Unify(val)
		} else {
			value = val
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return p.finish(value)
}

// finish applies the schema and exports concrete JSON.
func (p *Parser) finish(val cue.Value) ([]byte, []ValidationError) {
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}

	schema, ok := p.schemas.Definition("#Config")
	if !ok {
		return nil, []ValidationError{{Message: "schema #Config not found"}}
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}

	data, err := unified.MarshalJSON()
	if err != nil {
		return nil, convertCUEErrors(err)
	}
	return data, nil
}

func (p *Parser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:    path,
			Message: fmt.Sprintf("failed to read file: %v", err),
		}}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc interface{}
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return cue.Value{}, []ValidationError{{File: path, Message: err.Error()}}
		}
		if doc == nil {
			doc = map[string]interface{}{}
		}
		val := p.schemas.ctx.Encode(doc)
		if err := val.Err(); err != nil {
			return cue.Value{}, convertCUEErrors(err)
		}
		return val, nil

	case ".cue", ".json":
		val := p.schemas.ctx.CompileBytes(content, cue.Filename(path))
		if err := val.Err(); err != nil {
			return cue.Value{}, convertCUEErrors(err)
		}
		return val, nil

	default:
		return cue.Value{}, []ValidationError{{
			File:    path,
			Message: "unsupported config format (want .cue, .yaml, .yml or .json)",
		}}
	}
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError

	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

func convertValidatorErrors(err error) []ValidationError {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Message: err.Error()}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Path:    strings.TrimPrefix(fe.Namespace(), "Config."),
			Message: fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value()),
		})
	}
	return out
}
