package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckBuiltin(t *testing.T) {
	require.NoError(t, Check(Builtin(), BuiltinProcesses()))
}

func TestCheckProblems(t *testing.T) {
	valid := func() Activity {
		return Activity{ID: "a", DisplayName: "A", Category: "c", TaskType: "task-a", Timeout: "10s"}
	}

	tests := []struct {
		name      string
		mutate    func(reg *ActivityRegistry)
		processes []Process
		wantErr   string
	}{
		{
			name:    "empty",
			mutate:  func(reg *ActivityRegistry) { reg.Activities = nil },
			wantErr: "no activities",
		},
		{
			name: "duplicate id",
			mutate: func(reg *ActivityRegistry) {
				dup := valid()
				dup.TaskType = "task-b"
				reg.Activities = append(reg.Activities, dup)
			},
			wantErr: "duplicate activity id: a",
		},
		{
			name: "duplicate task type",
			mutate: func(reg *ActivityRegistry) {
				dup := valid()
				dup.ID = "b"
				reg.Activities = append(reg.Activities, dup)
			},
			wantErr: "duplicate task type: task-a",
		},
		{
			name:    "missing category",
			mutate:  func(reg *ActivityRegistry) { reg.Activities[0].Category = "" },
			wantErr: "missing required field: category",
		},
		{
			name:    "bad timeout",
			mutate:  func(reg *ActivityRegistry) { reg.Activities[0].Timeout = "ten seconds" },
			wantErr: "invalid timeout",
		},
		{
			name: "schema does not compile",
			mutate: func(reg *ActivityRegistry) {
				reg.Activities[0].InputSchema = map[string]interface{}{"type": 42}
			},
			wantErr: "input schema",
		},
		{
			name:      "unknown process task",
			mutate:    func(reg *ActivityRegistry) {},
			processes: []Process{{ID: "job-posted", Tasks: []string{"task-a", "task-z"}}},
			wantErr:   "process job-posted runs unknown task task-z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &ActivityRegistry{Activities: []Activity{valid()}}
			tt.mutate(reg)

			err := Check(reg, tt.processes)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
