package permissions

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

var (
	// ErrProfileNotFound is returned when a profile file cannot be read.
	ErrProfileNotFound = errors.New("permission profile not found")
	// ErrProfileMalformed is returned when a profile file cannot be parsed or
	// fails schema validation.
	ErrProfileMalformed = errors.New("permission profile malformed")
)

//go:embed schema/profile.schema.json
var profileSchemaJSON string

const profileSchemaURL = "https://hako.local/schema/profile.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func profileSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(profileSchemaURL, strings.NewReader(profileSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add profile schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(profileSchemaURL)
	})
	return schema, schemaErr
}

// Resolver turns a profile selector into a Profile. The zero value reads
// files from the local filesystem.
type Resolver struct {
	// ReadFile overrides os.ReadFile, mainly for tests.
	ReadFile func(name string) ([]byte, error)
}

// Resolve returns the built-in profile for "stdio" and "network" and loads
// any other selector as a file path.
func (r Resolver) Resolve(selector string) (*Profile, error) {
	if p, ok := Builtin(selector); ok {
		return p, nil
	}
	if strings.TrimSpace(selector) == "" {
		return nil, fmt.Errorf("%w: empty selector", ErrProfileNotFound)
	}

	readFile := r.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	data, err := readFile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrProfileNotFound, selector, err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", selector, err)
	}
	return p, nil
}

// Parse decodes a JSON or YAML profile document and validates it.
func Parse(data []byte) (*Profile, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileMalformed, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: empty document", ErrProfileMalformed)
	}

	if err := validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileMalformed, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileMalformed, err)
	}
	return &p, nil
}

// validate checks doc against the embedded schema. The YAML tree is passed
// through encoding/json first so the validator sees plain JSON values.
func validate(doc any) error {
	sch, err := profileSchema()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("normalise document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var normalised any
	if err := dec.Decode(&normalised); err != nil {
		return fmt.Errorf("normalise document: %w", err)
	}
	return sch.Validate(normalised)
}
