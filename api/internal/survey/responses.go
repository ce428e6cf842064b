package survey

import (
	"fmt"
	"strings"
)

// Korean fallbacks matching the report copy: the pipeline must never fail
// merely because an optional answer is absent.
const (
	DefaultDogName = "강아지"
	Unknown        = "알 수 없음"
	None           = "없음"
)

// Responses maps question id to the collected answer. Values are strings,
// []string (checkbox answers), or a {year, month} map for birth questions.
// The analysis pipeline treats it as read-only.
type Responses map[string]any

// Answered reports whether the question has a non-empty answer.
func (r Responses) Answered(key string) bool {
	v, ok := r[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case []string:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	return true
}

// Text returns the answer as a string, or def when absent or not a string.
func (r Responses) Text(key, def string) string {
	if v, ok := r[key].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// List returns a checkbox answer as a string slice. JSON-decoded request
// bodies arrive as []any, so both shapes are accepted.
func (r Responses) List(key string) []string {
	switch v := r[key].(type) {
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

func (r Responses) DogName() string     { return r.Text("dog_name", DefaultDogName) }
func (r Responses) HardestPart() string { return r.Text("hardest_part", Unknown) }

func (r Responses) MainConcerns() []string { return r.List("main_concerns") }

// DogBirth renders the birth answer as display text. A {year, month} map
// becomes "2022년 5월"; a plain string passes through; anything else yields
// the unknown label.
func (r Responses) DogBirth() string {
	switch v := r["dog_birth"].(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			return v
		}
	case map[string]any:
		year := stringify(v["year"])
		month := stringify(v["month"])
		if year != "" || month != "" {
			return fmt.Sprintf("%s년 %s월", year, month)
		}
	case map[string]string:
		if v["year"] != "" || v["month"] != "" {
			return fmt.Sprintf("%s년 %s월", v["year"], v["month"])
		}
	}
	return Unknown
}

// OtherPets joins the other-pets answer, collapsing the "none" sentinel.
func (r Responses) OtherPets() string {
	pets := r.List("other_pets")
	if len(pets) == 0 || pets[0] == None {
		return None
	}
	return strings.Join(pets, ", ")
}

// OtherTexts collects free-form "*_other" follow-up answers.
func (r Responses) OtherTexts() map[string]string {
	out := map[string]string{}
	for k, v := range r {
		if !strings.HasSuffix(k, "_other") {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			out[k] = s
		}
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	case int:
		return fmt.Sprintf("%d", t)
	}
	return fmt.Sprintf("%v", v)
}
