// cmd/tools/registry-updater/main.go
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"trades-marketplace/pkg/registry"

	"github.com/spf13/pflag"
)

func main() {
	exportCmd := pflag.NewFlagSet("export", pflag.ExitOnError)
	updateCmd := pflag.NewFlagSet("update", pflag.ExitOnError)
	validateCmd := pflag.NewFlagSet("validate", pflag.ExitOnError)
	listCmd := pflag.NewFlagSet("list", pflag.ExitOnError)

	exportOut := exportCmd.String("out", "configs/activity-registry.json", "File to write the registry to")
	exportOverride := exportCmd.String("override", "", "Optional registry file merged over the builtin activities")

	updatePath := updateCmd.String("path", "configs/activity-registry.json", "Path to registry file")
	taskType := updateCmd.String("taskType", "", "Task type of the activity to update")
	field := updateCmd.String("field", "", "Field to update (timeout, retries, version, description, displayName)")
	value := updateCmd.String("value", "", "New value for the field")

	validatePath := validateCmd.String("path", "configs/activity-registry.json", "Path to registry file")
	listPath := listCmd.String("path", "", "Registry override file; builtin activities when empty")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "export":
		_ = exportCmd.Parse(os.Args[2:])
		reg, err := registry.Load(*exportOverride)
		if err != nil {
			fail("loading registry", err)
		}
		reg.LastUpdated = time.Now().UTC().Format("2006-01-02")
		if err := saveRegistry(reg, *exportOut); err != nil {
			fail("writing registry", err)
		}
		fmt.Printf("Wrote %d activities to %s\n", len(reg.Activities), *exportOut)

	case "update":
		_ = updateCmd.Parse(os.Args[2:])
		if *taskType == "" || *field == "" || *value == "" {
			fmt.Println("Error: taskType, field, and value are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		if err := updateActivity(*updatePath, *taskType, *field, *value); err != nil {
			fail("updating activity", err)
		}
		fmt.Printf("Updated activity %s, field %s to %s\n", *taskType, *field, *value)

	case "validate":
		_ = validateCmd.Parse(os.Args[2:])
		reg, err := registry.Load(*validatePath)
		if err != nil {
			fail("loading registry", err)
		}
		if err := registry.Check(reg, registry.BuiltinProcesses()); err != nil {
			fmt.Printf("Registry validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Registry validation passed. Found %d activities.\n", len(reg.Activities))

	case "list":
		_ = listCmd.Parse(os.Args[2:])
		reg, err := registry.Load(*listPath)
		if err != nil {
			fail("loading registry", err)
		}
		list(reg)

	case "help":
		fallthrough
	default:
		help()
	}
}

func updateActivity(path, taskType, field, value string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	activity, ok := reg.Get(taskType)
	if !ok {
		return fmt.Errorf("activity with task type %s not found", taskType)
	}

	switch field {
	case "timeout":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid timeout value: %w", err)
		}
		activity.Timeout = value
	case "retries":
		retries, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid retries value: %w", err)
		}
		activity.Retries = retries
	case "version":
		activity.Version = value
	case "description":
		activity.Description = value
	case "displayName":
		activity.DisplayName = value
	default:
		return fmt.Errorf("unknown field: %s", field)
	}

	reg.LastUpdated = time.Now().UTC().Format("2006-01-02")
	return saveRegistry(reg, path)
}

func list(reg *registry.ActivityRegistry) {
	workflows := make(map[string][]string)
	for _, p := range registry.BuiltinProcesses() {
		for _, task := range p.Tasks {
			workflows[task] = append(workflows[task], p.ID)
		}
	}

	activities := append([]registry.Activity(nil), reg.Activities...)
	sort.Slice(activities, func(i, j int) bool { return activities[i].TaskType < activities[j].TaskType })

	fmt.Printf("Registry %s (%d activities)\n", reg.Version, len(activities))
	for _, a := range activities {
		fmt.Printf("  %-20s timeout=%-5s retries=%d processes=%v\n", a.TaskType, a.Timeout, a.Retries, workflows[a.TaskType])
	}
}

// saveRegistry handles saving the registry to file
func saveRegistry(reg *registry.ActivityRegistry, path string) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}

func fail(action string, err error) {
	fmt.Printf("Error %s: %v\n", action, err)
	os.Exit(1)
}

func help() {
	fmt.Println(`
Usage: registry-updater <command> [flags]

Commands:
  export    Write the builtin activity registry (plus an optional override) to a file
  update    Update timeout, retries or metadata of one activity in a registry file
  validate  Check a registry file against the builtin processes
  list      Print activities and the processes that run them
  help      Show this help message

Examples:
  registry-updater export --out configs/activity-registry.json
  registry-updater update --taskType release-escrow --field timeout --value 45s
  registry-updater validate --path configs/activity-registry.json

Use 'registry-updater <command> -h' for more information about a command.`)
}
