package agents

import "github.com/halcasteel/bookmark-pipeline/pkg/a2a"

// contextHas reports whether the key is present in the task context,
// regardless of its value. An explicitly empty list is present.
func contextHas(task *a2a.Task, key string) bool {
	_, ok := task.Context[key]
	return ok
}

// contextString reads a string field from the task context.
func contextString(task *a2a.Task, key string) string {
	if v, ok := task.Context[key].(string); ok {
		return v
	}
	return ""
}

// contextStrings reads a string slice field from the task context.
// JSON round-trips turn slices into []any, so both shapes are handled.
func contextStrings(task *a2a.Task, key string) []string {
	switch v := task.Context[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// contextBool reads a boolean field from the task context.
func contextBool(task *a2a.Task, key string) bool {
	if v, ok := task.Context[key].(bool); ok {
		return v
	}
	return false
}
