package recipe

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/recipe-v1.json
var recipeSchemaJSON string

//go:embed schema/calibration-v1.json
var calibrationSchemaJSON string

type Validator struct {
	recipe      *jsonschema.Schema
	calibration *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("recipe-v1.json",
		strings.NewReader(recipeSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add recipe schema resource: %w", err)
	}
	if err := compiler.AddResource("calibration-v1.json",
		strings.NewReader(calibrationSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add calibration schema resource: %w", err)
	}

	recipeSchema, err := compiler.Compile("recipe-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile recipe schema: %w", err)
	}
	calibrationSchema, err := compiler.Compile("calibration-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile calibration schema: %w", err)
	}

	return &Validator{recipe: recipeSchema, calibration: calibrationSchema}, nil
}

func (v *Validator) ValidateRecipe(data []byte) error {
	return validateYAML(v.recipe, data)
}

func (v *Validator) ValidateCalibration(data []byte) error {
	return validateYAML(v.calibration, data)
}

// validateYAML routes the YAML document through a JSON round trip so the
// schema library sees the value types it expects.
func validateYAML(schema *jsonschema.Schema, data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	var normalized interface{}
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return fmt.Errorf("failed to normalize document: %w", err)
	}

	if err := schema.Validate(normalized); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
