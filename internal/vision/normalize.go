package vision

import (
	"fmt"
	"strings"
)

// cleanComment is the canned summary used when a "messy" verdict
// arrives with no usable tasks. Surfacing messy-with-no-tasks would
// make the needs-tidy flag meaningless, so the result collapses to
// clean instead.
const cleanComment = "Room appears tidy – nothing obvious to do."

// defaultCleanResult returns the canned all-clear result.
func defaultCleanResult() *Result {
	return &Result{
		Status:  StatusClean,
		Tasks:   []Task{},
		Comment: cleanComment,
	}
}

// Normalize validates and repairs a raw provider payload into a
// canonical Result. Pure function, no I/O.
//
// Hard failures (InvalidResponseError): a status outside clean/messy,
// or a tasks field that is not a list. Per-task problems are soft:
// entries that aren't objects or lack a non-empty string title are
// silently dropped, and an unrecognized priority is coerced to normal.
func Normalize(raw map[string]any) (*Result, error) {
	status, _ := raw["status"].(string)
	if status != string(StatusClean) && status != string(StatusMessy) {
		return nil, &InvalidResponseError{Detail: fmt.Sprintf("status %q is not clean or messy", status)}
	}

	// A present tasks field must be a list; a JSON null is present and
	// is rejected the same as any other non-list value.
	var rawTasks []any
	if v, present := raw["tasks"]; present {
		list, ok := v.([]any)
		if !ok {
			return nil, &InvalidResponseError{Detail: "tasks must be a list"}
		}
		rawTasks = list
	}

	tasks := make([]Task, 0, len(rawTasks))
	for _, entry := range rawTasks {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		title, ok := obj["title"].(string)
		if !ok || strings.TrimSpace(title) == "" {
			continue
		}

		description, _ := obj["description"].(string)

		priority, _ := obj["priority"].(string)
		switch priority {
		case PriorityLow, PriorityNormal, PriorityHigh:
		default:
			priority = PriorityNormal
		}

		tasks = append(tasks, Task{
			Title:       strings.TrimSpace(title),
			Description: strings.TrimSpace(description),
			Priority:    priority,
		})
	}

	if status == string(StatusMessy) && len(tasks) == 0 {
		return defaultCleanResult(), nil
	}

	comment, _ := raw["comment"].(string)

	return &Result{
		Status:  Status(status),
		Tasks:   tasks,
		Comment: comment,
	}, nil
}
