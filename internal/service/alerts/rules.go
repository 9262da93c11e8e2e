// Package alerts raises clinical alerts from the live transcript and shows
// them as self-expiring toasts.
package alerts

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"clinical-scribe-service/internal/models"
)

// Evaluator decides which alerts the accumulated transcript warrants.
type Evaluator interface {
	Evaluate(ctx context.Context, transcript string) ([]models.Alert, error)
}

// Rule raises one alert when any of its phrases occurs in the transcript.
type Rule struct {
	ID         string          `yaml:"id"`
	Severity   models.Severity `yaml:"severity"`
	Title      string          `yaml:"title"`
	Message    string          `yaml:"message"`
	Confidence float64         `yaml:"confidence"`
	Phrases    []string        `yaml:"phrases"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules is the built-in offline rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:         "fever-reported",
			Severity:   models.SeverityWarning,
			Title:      "Fever reported",
			Message:    "Patient reports fever. Consider recording temperature and infection workup.",
			Confidence: 0.8,
			Phrases:    []string{"fever", "febrile"},
		},
		{
			ID:         "chest-pain",
			Severity:   models.SeverityCritical,
			Title:      "Chest pain mentioned",
			Message:    "Chest pain reported. Rule out acute coronary syndrome and pulmonary embolism.",
			Confidence: 0.85,
			Phrases:    []string{"chest pain", "chest tightness"},
		},
		{
			ID:         "allergy-mentioned",
			Severity:   models.SeverityInfo,
			Title:      "Allergy discussed",
			Message:    "Verify the allergy list before prescribing.",
			Confidence: 0.7,
			Phrases:    []string{"allergic", "allergy", "allergies"},
		},
		{
			ID:         "shortness-of-breath",
			Severity:   models.SeverityWarning,
			Title:      "Shortness of breath",
			Message:    "Dyspnea reported. Check oxygen saturation.",
			Confidence: 0.8,
			Phrases:    []string{"shortness of breath", "can't breathe", "short of breath"},
		},
	}
}

// LoadRules reads a YAML rule file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alert rules: %w", err)
	}
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse alert rules %s: %w", path, err)
	}
	if err := validateRules(f.Rules); err != nil {
		return nil, fmt.Errorf("alert rules %s: %w", path, err)
	}
	return f.Rules, nil
}

func validateRules(rules []Rule) error {
	if len(rules) == 0 {
		return fmt.Errorf("no rules defined")
	}
	ids := make(map[string]struct{}, len(rules))
	for i := range rules {
		r := &rules[i]
		if r.ID == "" {
			return fmt.Errorf("rule %d: missing id", i)
		}
		if _, dup := ids[r.ID]; dup {
			return fmt.Errorf("rule %q: duplicate id", r.ID)
		}
		ids[r.ID] = struct{}{}
		if r.Title == "" {
			return fmt.Errorf("rule %q: missing title", r.ID)
		}
		if len(r.Phrases) == 0 {
			return fmt.Errorf("rule %q: no phrases", r.ID)
		}
		if r.Severity == "" {
			r.Severity = models.SeverityWarning
		}
		if !r.Severity.Valid() {
			return fmt.Errorf("rule %q: unknown severity %q", r.ID, r.Severity)
		}
	}
	return nil
}

// PhraseEvaluator matches rule phrases case-insensitively. It is
// deterministic and needs no network.
type PhraseEvaluator struct {
	rules []Rule
}

func NewPhraseEvaluator(rules []Rule) *PhraseEvaluator {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	lowered := make([]Rule, len(rules))
	for i, r := range rules {
		r.Phrases = append([]string(nil), r.Phrases...)
		for j, p := range r.Phrases {
			r.Phrases[j] = strings.ToLower(strings.TrimSpace(p))
		}
		lowered[i] = r
	}
	return &PhraseEvaluator{rules: lowered}
}

func (e *PhraseEvaluator) Evaluate(ctx context.Context, transcript string) ([]models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := strings.ToLower(transcript)

	var out []models.Alert
	for _, r := range e.rules {
		var matched []string
		for _, p := range r.Phrases {
			if p != "" && strings.Contains(text, p) {
				matched = append(matched, p)
			}
		}
		if len(matched) == 0 {
			continue
		}
		out = append(out, models.Alert{
			ID:                r.ID,
			Severity:          r.Severity,
			Title:             r.Title,
			Message:           r.Message,
			Confidence:        r.Confidence,
			TriggeringFactors: matched,
		})
	}
	return out, nil
}
