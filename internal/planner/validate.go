package planner

import (
	"fmt"

	"github.com/dagrun/dagrun/internal/job"
)

// ValidateJob checks the structural invariants from the data model: ids are
// present and unique, action types and tool references are well-formed, the
// clarification invariant holds, and the dependency graph is acyclic with
// every non-sentinel reference resolving to an existing sub-task.
func ValidateJob(j job.Job) error {
	if j.ClarificationNeeded && j.ClarificationQuery == "" {
		return fmt.Errorf("planner: clarification_needed is true but clarification_query is empty")
	}
	if j.ClarificationNeeded {
		// A clarifying job carries no executable plan; nothing further to
		// validate structurally.
		return nil
	}
	if len(j.SubTasks) == 0 {
		return fmt.Errorf("planner: job has no sub_tasks")
	}

	seen := make(map[string]job.SubTask, len(j.SubTasks))
	for _, t := range j.SubTasks {
		if t.ID == "" {
			return fmt.Errorf("planner: sub-task has empty id")
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("planner: duplicate sub-task id %q", t.ID)
		}
		seen[t.ID] = t
		switch t.ActionType {
		case job.ActionTool, job.ActionInference:
		default:
			return fmt.Errorf("planner: sub-task %q has invalid action_type %q", t.ID, t.ActionType)
		}
		if t.ToolOrPrompt.Name == "" {
			return fmt.Errorf("planner: sub-task %q has empty tool_or_prompt.name", t.ID)
		}
		if len(t.Dependencies) == 0 {
			return fmt.Errorf("planner: sub-task %q has no dependencies (expected [\"none\"] sentinel)", t.ID)
		}
	}

	for _, t := range j.SubTasks {
		if t.HasNoDependencies() {
			continue
		}
		for _, dep := range t.Dependencies {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("planner: sub-task %q depends on unknown id %q", t.ID, dep)
			}
		}
	}

	return checkAcyclic(j.SubTasks)
}

// checkAcyclic verifies that the dependency graph induced by Dependencies
// has no cycles, via DFS with a recursion-stack.
func checkAcyclic(subTasks []job.SubTask) error {
	byID := make(map[string]job.SubTask, len(subTasks))
	for _, t := range subTasks {
		byID[t.ID] = t
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(subTasks))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("planner: dependency cycle detected: %v -> %s", path, id)
		}
		state[id] = visiting
		t := byID[id]
		if !t.HasNoDependencies() {
			for _, dep := range t.Dependencies {
				if err := visit(dep, append(path, id)); err != nil {
					return err
				}
			}
		}
		state[id] = done
		return nil
	}

	for _, t := range subTasks {
		if err := visit(t.ID, nil); err != nil {
			return err
		}
	}
	return nil
}
