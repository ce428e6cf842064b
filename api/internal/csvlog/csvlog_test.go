package csvlog

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mari-ask/api/internal/analyze"
	"mari-ask/api/internal/llm"
	"mari-ask/api/internal/survey"
)

func sampleResult() *analyze.Result {
	return &analyze.Result{
		FinalText:       "분석 결과 텍스트",
		ConfidenceScore: 0.85,
		RawJSON:         llm.MockExpertAnalysis("barking"),
	}
}

func sampleSurvey() survey.Responses {
	return survey.Responses{
		"dog_name":            "콩이",
		"dog_birth":           map[string]any{"year": "2022", "month": "5"},
		"main_concerns":       []any{"barking", "separation_anxiety"},
		"personality_traits":  []any{"겁이 많아요"},
		"main_concerns_other": "이불 물어뜯기",
	}
}

func TestSaveWritesBOMAndHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "survey_results.csv")

	require.NoError(t, Save(path, sampleSurvey(), sampleResult()))
	require.NoError(t, Save(path, sampleSurvey(), sampleResult()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	// UTF-8 BOM exactly once, at the start.
	bom := []byte{0xEF, 0xBB, 0xBF}
	require.True(t, bytes.HasPrefix(raw, bom))
	assert.Equal(t, 1, bytes.Count(raw, bom))

	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, bom)))
	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "header + two data rows")
	assert.Equal(t, columns, rows[0])
}

func TestSaveRowContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "survey_results.csv")
	require.NoError(t, Save(path, sampleSurvey(), sampleResult()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	r := csv.NewReader(bytes.NewReader(raw[3:]))
	rows, err := r.ReadAll()
	require.NoError(t, err)

	row := map[string]string{}
	for i, col := range rows[0] {
		row[col] = rows[1][i]
	}

	assert.Equal(t, "콩이", row["dog_name"])
	assert.Equal(t, "2022년 5월", row["dog_birth"])
	// List answers are JSON arrays, not comma joins.
	assert.Equal(t, `["barking","separation_anxiety"]`, row["main_concerns"])
	assert.Equal(t, `["겁이 많아요"]`, row["personality_traits"])
	// Unanswered list columns still hold a valid empty JSON array.
	assert.Equal(t, `[]`, row["other_pets"])
	assert.Equal(t, `{"main_concerns_other":"이불 물어뜯기"}`, row["other_responses"])
	assert.Equal(t, "0.85", row["confidence_score"])
	assert.Equal(t, "분석 결과 텍스트", row["final_text"])
	assert.Contains(t, row["raw_json"], `"solutions_best_fit"`)
	assert.NotEmpty(t, row["timestamp"])
}

func TestSaveOpenError(t *testing.T) {
	// Directory path cannot be opened as a file.
	err := Save(t.TempDir(), sampleSurvey(), sampleResult())
	assert.Error(t, err)
}
