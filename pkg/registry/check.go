package registry

import (
	"fmt"
	"time"

	"trades-marketplace/internal/common/validation"
)

// Check reports the first structural problem in reg: missing required fields, duplicate
// ids or task types, unparsable timeouts, input schemas that do not compile, and process
// tasks with no activity.
func Check(reg *ActivityRegistry, processes []Process) error {
	if len(reg.Activities) == 0 {
		return fmt.Errorf("registry contains no activities")
	}

	ids := make(map[string]bool, len(reg.Activities))
	taskTypes := make(map[string]bool, len(reg.Activities))
	for _, activity := range reg.Activities {
		if activity.ID == "" {
			return fmt.Errorf("activity missing required field: id")
		}
		if ids[activity.ID] {
			return fmt.Errorf("duplicate activity id: %s", activity.ID)
		}
		ids[activity.ID] = true

		if activity.TaskType == "" {
			return fmt.Errorf("activity %s missing required field: taskType", activity.ID)
		}
		if taskTypes[activity.TaskType] {
			return fmt.Errorf("duplicate task type: %s", activity.TaskType)
		}
		taskTypes[activity.TaskType] = true

		if activity.DisplayName == "" {
			return fmt.Errorf("activity %s missing required field: displayName", activity.ID)
		}
		if activity.Category == "" {
			return fmt.Errorf("activity %s missing required field: category", activity.ID)
		}
		if activity.Timeout != "" {
			if _, err := time.ParseDuration(activity.Timeout); err != nil {
				return fmt.Errorf("activity %s has invalid timeout %q", activity.ID, activity.Timeout)
			}
		}
		if len(activity.InputSchema) > 0 {
			if _, err := validation.CompileMap(activity.TaskType, activity.InputSchema); err != nil {
				return fmt.Errorf("activity %s input schema: %w", activity.ID, err)
			}
		}
	}

	for _, p := range processes {
		for _, task := range p.Tasks {
			if !taskTypes[task] {
				return fmt.Errorf("process %s runs unknown task %s", p.ID, task)
			}
		}
	}
	return nil
}
