// Package schemavalidation validates exported evidence packets and
// attestation/forensic artifacts against published JSON Schema documents.
//
// It wraps github.com/santhosh-tekuri/jsonschema/v5. A schema failure is
// reported as a distinct, wrapped error rather than folded into any
// semantic verification failure, so callers can tell "this isn't
// shaped like a witness proof" apart from "this proof is forged".
package schemavalidation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalid wraps every validation failure returned by Validate.
var ErrInvalid = errors.New("schema validation failed")

// Well-known schema names registered by LoadDefaults.
const (
	WitnessProof        = "witness-proof"
	ForensicProfile     = "forensic-profile"
	AttestationTemplate = "attestation-template"
)

// Validator compiles and caches JSON schemas loaded from disk.
type Validator struct {
	compiler *jsonschema.Compiler
	schemas  map[string]*jsonschema.Schema
}

// New returns an empty Validator. Schemas are registered with Load.
func New() *Validator {
	return &Validator{
		compiler: jsonschema.NewCompiler(),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// Load reads, compiles, and registers the schema file at path under name.
// A later Validate(name, ...) call uses the schema registered here.
func (v *Validator) Load(name, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("schemavalidation: read %s schema: %w", name, err)
	}

	if err := v.compiler.AddResource(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("schemavalidation: add %s schema resource: %w", name, err)
	}

	schema, err := v.compiler.Compile(path)
	if err != nil {
		return fmt.Errorf("schemavalidation: compile %s schema: %w", name, err)
	}

	v.schemas[name] = schema
	return nil
}

// LoadDefaults loads the three published schemas (witness proof, forensic
// profile, attestation template) from schemaDir, named
// "<name>-v1.schema.json".
func (v *Validator) LoadDefaults(schemaDir string) error {
	for _, name := range []string{WitnessProof, ForensicProfile, AttestationTemplate} {
		path := fmt.Sprintf("%s/%s-v1.schema.json", schemaDir, name)
		if err := v.Load(name, path); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks raw JSON data against the schema registered under name.
// On failure the returned error wraps ErrInvalid, so callers can test with
// errors.Is(err, schemavalidation.ErrInvalid).
func (v *Validator) Validate(name string, data []byte) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("schemavalidation: schema %q not loaded", name)
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrInvalid, err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return nil
}

// Loaded reports whether a schema has been registered under name.
func (v *Validator) Loaded(name string) bool {
	_, ok := v.schemas[name]
	return ok
}
