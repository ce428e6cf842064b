// Package csvlog appends one audit row per completed analysis to a growing
// CSV file: the flattened survey answers plus the result. The file is UTF-8
// with BOM so spreadsheet tools open the Korean text correctly.
package csvlog

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"mari-ask/api/internal/analyze"
	"mari-ask/api/internal/survey"
)

var columns = []string{
	"timestamp",
	"dog_name",
	"dog_birth",
	"dog_breed",
	"dog_gender",
	"dog_neutered",
	"other_pets",
	"personality_traits",
	"activity_time",
	"main_concerns",
	"problem_start_time",
	"problem_situation",
	"tried_solutions",
	"hardest_part",
	"living_environment",
	"family_members",
	"outing_time",
	"other_responses",
	"confidence_score",
	"final_text",
	"raw_json",
}

// Save appends one row; the header (and BOM) is written only when the file
// does not exist yet. Each call opens, appends and closes the file, so no
// handle is held across requests.
func Save(path string, responses survey.Responses, result *analyze.Result) error {
	exists := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		exists = false
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	if !exists {
		if _, err := f.Write([]byte("\xEF\xBB\xBF")); err != nil {
			return fmt.Errorf("write bom: %w", err)
		}
	}

	w := csv.NewWriter(f)
	if !exists {
		if err := w.Write(columns); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.Write(buildRow(responses, result)); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	w.Flush()
	return w.Error()
}

func buildRow(r survey.Responses, result *analyze.Result) []string {
	rawJSON, _ := json.Marshal(result.RawJSON)
	return []string{
		time.Now().Format("2006-01-02 15:04:05"),
		r.Text("dog_name", ""),
		r.DogBirth(),
		r.Text("dog_breed", ""),
		r.Text("dog_gender", ""),
		r.Text("dog_neutered", ""),
		jsonList(r.List("other_pets")),
		jsonList(r.List("personality_traits")),
		r.Text("activity_time", ""),
		jsonList(r.MainConcerns()),
		r.Text("problem_start_time", ""),
		r.Text("problem_situation", ""),
		r.Text("tried_solutions", ""),
		r.Text("hardest_part", ""),
		r.Text("living_environment", ""),
		r.Text("family_members", ""),
		r.Text("outing_time", ""),
		jsonMap(r.OtherTexts()),
		strconv.FormatFloat(result.ConfidenceScore, 'g', -1, 64),
		result.FinalText,
		string(rawJSON),
	}
}

// List answers are persisted as JSON-array strings, never a bare comma join.
func jsonList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func jsonMap(m map[string]string) string {
	if m == nil {
		m = map[string]string{}
	}
	b, _ := json.Marshal(m)
	return string(b)
}
