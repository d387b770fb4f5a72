package camunda

import (
	"context"
	"encoding/json"
	"fmt"

	"trades-marketplace/internal/common/errors"
)

// DecodeVariables copies process variables into a typed task input.
func DecodeVariables(vars map[string]interface{}, dst interface{}) error {
	raw, err := json.Marshal(vars)
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("encode variables: %v", err))
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.NewValidationError(fmt.Sprintf("parse variables: %v", err))
	}
	return nil
}

// EncodeVariables turns a typed task output into process variables.
func EncodeVariables(src interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return out, nil
}

type taskKeyCtx struct{}

// WithTaskKey tags ctx with the identity of one task in one process instance. Retries of
// the same task carry the same key.
func WithTaskKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, taskKeyCtx{}, key)
}

// TaskKey returns the key set by WithTaskKey, or "" outside a task.
func TaskKey(ctx context.Context) string {
	key, _ := ctx.Value(taskKeyCtx{}).(string)
	return key
}
