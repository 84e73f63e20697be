package record

import (
	"encoding/json"
	"strings"
)

// ParseSteps reads the stored pipeline step value, which varies across
// deployments: a JSON array of strings, a JSON array of objects with
// label/status keys, or a delimited plain string. Total: malformed input
// yields nil.
func ParseSteps(v any) []PipelineStep {
	switch s := v.(type) {
	case nil:
		return nil
	case []byte:
		// A text-typed column arrives as bytes; it may still hold a
		// delimited plain string rather than JSON.
		return ParseSteps(string(s))
	case string:
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			return nil
		}
		if strings.HasPrefix(trimmed, "[") {
			return parseStepsJSON([]byte(trimmed))
		}
		return parseStepsDelimited(trimmed)
	case []any:
		return parseStepsSlice(s)
	default:
		return nil
	}
}

func parseStepsJSON(data []byte) []PipelineStep {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return parseStepsSlice(raw)
}

func parseStepsSlice(raw []any) []PipelineStep {
	var steps []PipelineStep
	for _, item := range raw {
		switch el := item.(type) {
		case string:
			if label := strings.TrimSpace(el); label != "" {
				steps = append(steps, PipelineStep{Label: label})
			}
		case map[string]any:
			step := PipelineStep{}
			for _, key := range []string{"label", "name", "step"} {
				if s, ok := el[key].(string); ok && s != "" {
					step.Label = s
					break
				}
			}
			if s, ok := el["status"].(string); ok {
				step.Status = s
			}
			if step.Label != "" {
				steps = append(steps, step)
			}
		}
	}
	return steps
}

func parseStepsDelimited(s string) []PipelineStep {
	sep := ","
	if strings.Contains(s, ">") {
		sep = ">"
	} else if strings.Contains(s, ";") {
		sep = ";"
	}
	var steps []PipelineStep
	for _, part := range strings.Split(s, sep) {
		if label := strings.TrimSpace(part); label != "" {
			steps = append(steps, PipelineStep{Label: label})
		}
	}
	return steps
}

// CurrentStep returns the label of the first non-completed step, or the last
// step when all are complete. Used for "current stage" display.
func CurrentStep(steps []PipelineStep) string {
	if len(steps) == 0 {
		return ""
	}
	for _, step := range steps {
		switch strings.ToLower(step.Status) {
		case "", "complete", "completed", "done", "skipped":
			continue
		default:
			return step.Label
		}
	}
	return steps[len(steps)-1].Label
}
