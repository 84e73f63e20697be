package capability

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Logical field aliases for the primary analysis table.
const (
	FieldStatus      = "status"
	FieldOutcome     = "outcome"
	FieldProgress    = "progress"
	FieldStartedAt   = "started_at"
	FieldFinishedAt  = "finished_at"
	FieldDuration    = "duration"
	FieldAttempts    = "attempts"
	FieldScore       = "score"
	FieldPayload     = "payload"
	FieldSteps       = "steps"
	FieldSites       = "sites"
	FieldEmails      = "emails"
	FieldDescription = "description"
	FieldSiteFound   = "site_found"
	FieldErrorFlag   = "error_flag"
	FieldExtraCodes  = "extra_codes"
)

// DefaultFields returns the built-in candidate lists for the primary table's
// optional lifecycle and content columns. Candidate order is priority order:
// the first name present in the deployment wins.
func DefaultFields() []FieldSpec {
	return []FieldSpec{
		{Alias: FieldStatus, Candidates: []string{"analysis_status", "status"}, Fallback: NullText},
		{Alias: FieldOutcome, Candidates: []string{"analysis_result", "outcome", "result_status"}, Fallback: NullText},
		{Alias: FieldProgress, Candidates: []string{"analysis_progress", "progress"}, Fallback: NullNumeric},
		{Alias: FieldStartedAt, Candidates: []string{"analysis_started_at", "started_at"}, Fallback: NullTimestamp},
		{Alias: FieldFinishedAt, Candidates: []string{"analysis_finished_at", "finished_at", "completed_at"}, Fallback: NullTimestamp},
		{Alias: FieldDuration, Candidates: []string{"analysis_duration_secs", "duration_seconds"}, Fallback: NullInteger},
		{Alias: FieldAttempts, Candidates: []string{"analysis_attempts", "attempt_count"}, Fallback: NullInteger},
		{Alias: FieldScore, Candidates: []string{"analysis_score", "score"}, Fallback: NullNumeric},
		{Alias: FieldPayload, Candidates: []string{"analyzer_payload", "analysis_json", "ai_payload"}, Fallback: NullJSON},
		{Alias: FieldSteps, Candidates: []string{"pipeline_steps", "analysis_steps"}, Fallback: NullJSON},
		{Alias: FieldSites, Candidates: []string{"web_sites", "sites"}, Fallback: NullText},
		{Alias: FieldEmails, Candidates: []string{"emails", "email_list"}, Fallback: NullText},
		{Alias: FieldDescription, Candidates: []string{"description", "activity_description"}, Fallback: NullText},
		{Alias: FieldSiteFound, Candidates: []string{"site_found", "has_site"}, Fallback: NullBoolean},
		{Alias: FieldErrorFlag, Candidates: []string{"analysis_error", "has_error"}, Fallback: NullBoolean},
		{Alias: FieldExtraCodes, Candidates: []string{"extra_activity_codes", "additional_codes"}, Fallback: NullJSON},
	}
}

// LoadFields reads field spec overrides from a YAML file and merges them over
// the defaults. An override with a known alias replaces that spec wholesale;
// unknown aliases are appended.
func LoadFields(path string) ([]FieldSpec, error) {
	defaults := DefaultFields()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "capability: read fields file %s", path)
	}

	var wrapper struct {
		Fields []FieldSpec `yaml:"fields"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrapf(err, "capability: parse fields file %s", path)
	}

	byAlias := make(map[string]int, len(defaults))
	for i, spec := range defaults {
		byAlias[spec.Alias] = i
	}
	for _, spec := range wrapper.Fields {
		if i, ok := byAlias[spec.Alias]; ok {
			defaults[i] = spec
			continue
		}
		defaults = append(defaults, spec)
	}
	return defaults, nil
}
