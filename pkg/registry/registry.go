// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	apperrors "trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/validation"
)

func LoadRegistry(path string) (*ActivityRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg ActivityRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	return &reg, nil
}

// Load returns the builtin registry, with activities from path replacing builtins of the same task type.
func Load(path string) (*ActivityRegistry, error) {
	reg := Builtin()
	if path == "" {
		return reg, nil
	}

	override, err := LoadRegistry(path)
	if err != nil {
		return nil, err
	}

	for _, activity := range override.Activities {
		replaced := false
		for i := range reg.Activities {
			if reg.Activities[i].TaskType == activity.TaskType {
				reg.Activities[i] = activity
				replaced = true
				break
			}
		}
		if !replaced {
			reg.Activities = append(reg.Activities, activity)
		}
	}
	if override.Version != "" {
		reg.Version = override.Version
	}
	return reg, nil
}

// Get finds an activity by task type.
func (r *ActivityRegistry) Get(taskType string) (*Activity, bool) {
	for i := range r.Activities {
		if r.Activities[i].TaskType == taskType {
			return &r.Activities[i], true
		}
	}
	return nil, false
}

// Validator checks job variables against the activity input schemas.
type Validator struct {
	registry *ActivityRegistry

	mu      sync.Mutex
	schemas map[string]*validation.Schema
}

func NewValidator(reg *ActivityRegistry) *Validator {
	return &Validator{registry: reg, schemas: make(map[string]*validation.Schema)}
}

// ValidateInput returns a VALIDATION_FAILED error when vars do not satisfy the task's input schema.
// Task types without a registered schema pass.
func (v *Validator) ValidateInput(taskType string, vars map[string]interface{}) error {
	schema, err := v.schemaFor(taskType)
	if err != nil || schema == nil {
		return err
	}

	result, err := schema.Validate(vars)
	if err != nil {
		return apperrors.NewValidationError(err.Error())
	}
	if !result.Valid {
		return apperrors.NewValidationError(fmt.Sprintf("%s input: %s", taskType, strings.Join(result.GetErrorMessages(), "; ")))
	}
	return nil
}

func (v *Validator) schemaFor(taskType string) (*validation.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if schema, ok := v.schemas[taskType]; ok {
		return schema, nil
	}

	activity, ok := v.registry.Get(taskType)
	if !ok || len(activity.InputSchema) == 0 {
		return nil, nil
	}

	schema, err := validation.CompileMap(taskType, activity.InputSchema)
	if err != nil {
		return nil, err
	}
	v.schemas[taskType] = schema
	return schema, nil
}
