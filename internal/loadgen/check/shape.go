package check

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// FieldRule asserts something about one value in a JSON body.
//
// Path accepts gjson syntax ("content.0.sku") or simple JSONPath
// ("$.content[0].sku").
type FieldRule struct {
	Path string

	// Equals, if non-empty, is compared against the value's string form.
	Equals string

	// IsArray requires the value to be a JSON array.
	IsArray bool
}

// Match applies the rule to body.
func (r FieldRule) Match(body []byte) error {
	if len(body) == 0 {
		return fmt.Errorf("%s: empty body", r.Path)
	}
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("%s: body is not valid JSON", r.Path)
	}

	value := gjson.GetBytes(body, toGjsonPath(r.Path))
	if !value.Exists() {
		return fmt.Errorf("%s: not found", r.Path)
	}
	if r.IsArray && !value.IsArray() {
		return fmt.Errorf("%s: expected array, got %s", r.Path, value.Type)
	}
	if r.Equals != "" && value.String() != r.Equals {
		return fmt.Errorf("%s: expected %q, got %q", r.Path, r.Equals, value.String())
	}
	return nil
}

// toGjsonPath converts $.a.b[0] style paths to gjson's a.b.0.
func toGjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	path = strings.NewReplacer("['", ".", "']", "", `["`, ".", `"]`, "", "[", ".", "]", "").Replace(path)
	return strings.TrimPrefix(path, ".")
}

// Schema is a compiled JSON Schema.
type Schema struct {
	name     string
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document.
func CompileSchema(name string, src []byte) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(src)); err != nil {
		return nil, fmt.Errorf("invalid schema %s: %w", name, err)
	}

	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("invalid schema %s: %w", name, err)
	}

	return &Schema{name: name, compiled: compiled}, nil
}

// Validate checks body against the schema. The returned error lists every
// violated location.
func (s *Schema) Validate(body []byte) error {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("%s: invalid JSON: %w", s.name, err)
	}

	err := s.compiled.Validate(doc)
	if err == nil {
		return nil
	}

	validationErr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return fmt.Errorf("%s: %w", s.name, err)
	}

	var msgs []string
	collectCauses(validationErr, &msgs)
	if len(msgs) == 0 {
		msgs = append(msgs, validationErr.Error())
	}
	return fmt.Errorf("%s: %s", s.name, strings.Join(msgs, "; "))
}

func collectCauses(err *jsonschema.ValidationError, msgs *[]string) {
	if len(err.Causes) == 0 && err.Message != "" {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*msgs = append(*msgs, fmt.Sprintf("%s: %s", loc, err.Message))
	}
	for _, cause := range err.Causes {
		collectCauses(cause, msgs)
	}
}

//go:embed schemas/product.json
var productSchemaSrc []byte

var (
	productSchema     *Schema
	productSchemaOnce sync.Once
)

// ProductSchema returns the compiled schema for a catalog product body.
func ProductSchema() *Schema {
	productSchemaOnce.Do(func() {
		s, err := CompileSchema("product.json", productSchemaSrc)
		if err != nil {
			panic(err)
		}
		productSchema = s
	})
	return productSchema
}
