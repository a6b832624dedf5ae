// Package configfile persists the courier configuration as JSON or YAML,
// validates it against an embedded JSON Schema and watches it for changes.
package configfile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/xraph/courier"
	"github.com/xraph/courier/internal/logging"
)

// DefaultName is the file created when no path is given.
const DefaultName = "webhook_config.json"

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "courier://config/schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// File is the on-disk configuration.
type File struct {
	courier.Config `yaml:",inline"`

	Logging logging.Config `json:"logging" yaml:"logging"`
}

// Default returns the configuration written on first run.
func Default() *File {
	return &File{Config: courier.DefaultConfig(), Logging: logging.DefaultConfig()}
}

// Load reads path. When the file does not exist it is created with
// defaults and created is true.
func Load(path string) (f *File, created bool, err error) {
	f, err = Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		f = Default()
		if err := Save(path, f); err != nil {
			return nil, false, err
		}
		return f, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return f, false, nil
}

// Read parses and validates path. Keys absent from the file keep their
// default values.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, err
	}
	return Parse(data, isYAML(path))
}

// Parse decodes a document, checks it against the schema and then
// validates the resulting configuration.
func Parse(data []byte, yamlDoc bool) (*File, error) {
	doc, err := toJSON(data, yamlDoc)
	if err != nil {
		return nil, err
	}
	if err := validateSchema(doc); err != nil {
		return nil, err
	}

	f := Default()
	dec := json.NewDecoder(bytes.NewReader(doc))
	if err := dec.Decode(f); err != nil {
		return nil, fmt.Errorf("configfile: decode: %w", err)
	}
	if err := f.Config.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Save writes f to path, creating the directory if needed. The file is
// replaced atomically.
func Save(path string, f *File) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(f)
	} else {
		data, err = json.MarshalIndent(f, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("configfile: encode: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("configfile: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".courier-config-*")
	if err != nil {
		return fmt.Errorf("configfile: write: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("configfile: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("configfile: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("configfile: write: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// toJSON normalizes a JSON or YAML document to JSON bytes.
func toJSON(data []byte, yamlDoc bool) ([]byte, error) {
	if !yamlDoc {
		return data, nil
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("configfile: parse yaml: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("configfile: parse yaml: %w", err)
	}
	return out, nil
}

func validateSchema(doc []byte) error {
	schemaOnce.Do(func() {
		def, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("configfile: load schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, def); err != nil {
			schemaErr = fmt.Errorf("configfile: add schema resource: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	if schemaErr != nil {
		return schemaErr
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return fmt.Errorf("configfile: parse json: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %w", courier.ErrInvalidConfig, err)
	}
	return nil
}
