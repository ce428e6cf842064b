package analyze

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mari-ask/api/internal/llm"
	"mari-ask/api/internal/survey"
)

// fakeEngine scripts each stage independently.
type fakeEngine struct {
	vision    func(ctx context.Context) (llm.VisionAnalysis, error)
	expert    func(ctx context.Context, p llm.Prompt) (llm.ExpertAnalysis, error)
	narrate   func(ctx context.Context, p llm.Prompt) (llm.MariNarrative, error)
	visionN   int
	expertN   int
	narrateN  int
	expertLog []llm.Prompt
}

func (f *fakeEngine) Name() string     { return "fake" }
func (f *fakeEngine) GetModel() string { return "fake-model" }

func (f *fakeEngine) Vision(ctx context.Context, _ []byte, _ llm.CallOptions) (llm.VisionAnalysis, error) {
	f.visionN++
	if f.vision == nil {
		return llm.VisionAnalysis{OverallAssessment: "편안해 보임"}, nil
	}
	return f.vision(ctx)
}

func (f *fakeEngine) Expert(ctx context.Context, p llm.Prompt, _ llm.CallOptions) (llm.ExpertAnalysis, error) {
	f.expertN++
	f.expertLog = append(f.expertLog, p)
	if f.expert == nil {
		return goodExpert(), nil
	}
	return f.expert(ctx, p)
}

func (f *fakeEngine) Narrate(ctx context.Context, p llm.Prompt, _ llm.CallOptions) (llm.MariNarrative, error) {
	f.narrateN++
	if f.narrate == nil {
		return goodStory(), nil
	}
	return f.narrate(ctx, p)
}

func goodExpert() llm.ExpertAnalysis {
	a := llm.NormalizeExpert(llm.ExpertAnalysis{})
	a.AnalysisSummary.CoreIssue = "분리불안"
	a.AnalysisSummary.RootCause = "혼자 있는 시간"
	a.CoreMessage = "꾸준함이 중요합니다."
	a.ConfidenceScore = 0.85
	a.SolutionsBestFit[0].Title = "거리 두기 연습"
	return a
}

func goodStory() llm.MariNarrative {
	return llm.MariNarrative{
		Header: llm.MariHeader{Title: "콩이의 마음 이야기", Summary: "요약"},
		Solutions: []llm.MariSolution{
			{Title: "거리 두기 연습", Content: "내용", Steps: []string{"1단계"}, Outcome: "개선"},
		},
		Guidance:    []llm.MariGuidance{{Principle: "일관성", Description: "설명", Action: "행동"}},
		MariClosing: llm.MariClosing{CoreMessage: "잘하고 있어요", FinalQuote: "💛"},
	}
}

func testResponses() survey.Responses {
	return survey.Responses{
		"dog_name":      "콩이",
		"dog_birth":     map[string]any{"year": "2022", "month": "5"},
		"main_concerns": []any{"separation_anxiety"},
		"hardest_part":  "출근할 때마다 짖어요",
	}
}

func newAnalyzer(t *testing.T, eng llm.Engine, mut func(*Options)) *Analyzer {
	t.Helper()
	opts := Options{
		VisionTimeout: 2 * time.Second,
		PerfLogPath:   filepath.Join(t.TempDir(), "performance.jsonl"),
		AppEnv:        "test",
	}
	if mut != nil {
		mut(&opts)
	}
	return New(eng, opts, nil)
}

func TestAnalyzeHappyPath(t *testing.T) {
	eng := &fakeEngine{}
	a := newAnalyzer(t, eng, nil)

	res, err := a.AnalyzeTwoStage(context.Background(), testResponses(), []byte("img"), nil)
	require.NoError(t, err)

	assert.Equal(t, 0.85, res.ConfidenceScore)
	assert.Contains(t, res.FinalText, "콩이의 마음 이야기")
	assert.Contains(t, res.FinalText, "거리 두기 연습")
	require.NotNil(t, res.MariStory)
	assert.False(t, res.Flags.VisionFallbackUsed)
	assert.False(t, res.Flags.ExpertMockUsed)
	assert.False(t, res.Flags.MariTemplateUsed)
	assert.Equal(t, 1, eng.visionN)
	assert.Equal(t, 1, eng.expertN)
}

func TestAnalyzeMissingPhoto(t *testing.T) {
	eng := &fakeEngine{}
	a := newAnalyzer(t, eng, nil)

	_, err := a.AnalyzeTwoStage(context.Background(), testResponses(), nil, nil)
	require.ErrorIs(t, err, ErrMissingPhoto)
	// The precondition fires before any model call.
	assert.Zero(t, eng.visionN)
	assert.Zero(t, eng.expertN)
}

func TestAnalyzeVisionTimeoutFallsBack(t *testing.T) {
	eng := &fakeEngine{
		vision: func(ctx context.Context) (llm.VisionAnalysis, error) {
			<-ctx.Done()
			return llm.VisionAnalysis{}, ctx.Err()
		},
	}
	a := newAnalyzer(t, eng, func(o *Options) { o.VisionTimeout = 30 * time.Millisecond })

	res, err := a.AnalyzeTwoStage(context.Background(), testResponses(), []byte("img"), nil)
	require.NoError(t, err)
	assert.True(t, res.Flags.VisionFallbackUsed)

	// The expert prompt carries the canned vision text, not an empty section.
	require.NotEmpty(t, eng.expertLog)
	assert.Contains(t, eng.expertLog[0].User, "이미지 분석을 수행할 수 없어")
	assert.Contains(t, eng.expertLog[0].User, "콩이")
}

func TestAnalyzeVisionErrorFallsBack(t *testing.T) {
	eng := &fakeEngine{
		vision: func(context.Context) (llm.VisionAnalysis, error) {
			return llm.VisionAnalysis{}, errors.New("boom")
		},
	}
	a := newAnalyzer(t, eng, nil)

	res, err := a.AnalyzeTwoStage(context.Background(), testResponses(), []byte("img"), nil)
	require.NoError(t, err)
	assert.True(t, res.Flags.VisionFallbackUsed)
	assert.Equal(t, 0.85, res.ConfidenceScore)
}

func TestAnalyzeNormalizeRepairsCardinality(t *testing.T) {
	eng := &fakeEngine{
		expert: func(context.Context, llm.Prompt) (llm.ExpertAnalysis, error) {
			a := goodExpert()
			a.SolutionsBestFit = a.SolutionsBestFit[:2]
			return a, nil
		},
	}
	a := newAnalyzer(t, eng, nil)

	res, err := a.AnalyzeTwoStage(context.Background(), testResponses(), []byte("img"), nil)
	require.NoError(t, err)
	require.Len(t, res.RawJSON.SolutionsBestFit, llm.ExactSolutionCount)
	assert.Equal(t, "추가 솔루션", res.RawJSON.SolutionsBestFit[2].Title)
	assert.False(t, res.Flags.ExpertMockUsed)
	// Normalize sufficed, so no fix round-trip happened.
	assert.Equal(t, 1, eng.expertN)
}

func TestAnalyzeFixPromptPath(t *testing.T) {
	eng := &fakeEngine{}
	eng.expert = func(_ context.Context, p llm.Prompt) (llm.ExpertAnalysis, error) {
		if eng.expertN == 1 {
			// Missing required field: normalize cannot repair this.
			a := goodExpert()
			a.CoreMessage = ""
			return a, nil
		}
		return goodExpert(), nil
	}
	a := newAnalyzer(t, eng, nil)

	res, err := a.AnalyzeTwoStage(context.Background(), testResponses(), []byte("img"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, eng.expertN)
	assert.Equal(t, "꾸준함이 중요합니다.", res.RawJSON.CoreMessage)
	assert.False(t, res.Flags.ExpertMockUsed)
	// The fix prompt carries the validation failure reason.
	assert.Contains(t, eng.expertLog[1].User, "필수 필드 누락: core_message")
}

func TestAnalyzeFixFailureFinalNormalize(t *testing.T) {
	eng := &fakeEngine{}
	eng.expert = func(context.Context, llm.Prompt) (llm.ExpertAnalysis, error) {
		if eng.expertN == 1 {
			a := goodExpert()
			a.CoreMessage = ""
			return a, nil
		}
		return llm.ExpertAnalysis{}, errors.New("fix call failed")
	}
	a := newAnalyzer(t, eng, nil)

	res, err := a.AnalyzeTwoStage(context.Background(), testResponses(), []byte("img"), nil)
	require.NoError(t, err)
	// Best effort: cardinality is repaired even though core_message stays empty.
	assert.Len(t, res.RawJSON.SolutionsBestFit, llm.ExactSolutionCount)
	assert.Empty(t, res.RawJSON.CoreMessage)
	assert.NotEmpty(t, res.FinalText)
}

func TestAnalyzeTotalExpertFailureUsesMock(t *testing.T) {
	eng := &fakeEngine{
		expert: func(context.Context, llm.Prompt) (llm.ExpertAnalysis, error) {
			return llm.ExpertAnalysis{}, errors.New("provider down")
		},
		narrate: func(context.Context, llm.Prompt) (llm.MariNarrative, error) {
			return llm.MariNarrative{}, errors.New("provider down")
		},
	}
	a := newAnalyzer(t, eng, nil)

	res, err := a.AnalyzeTwoStage(context.Background(), testResponses(), []byte("img"), nil)
	require.NoError(t, err)
	assert.Equal(t, llm.MockConfidence, res.ConfidenceScore)
	assert.True(t, res.Flags.ExpertMockUsed)
	assert.True(t, res.Flags.MariTemplateUsed)
	assert.Nil(t, res.MariStory)
	assert.NotEmpty(t, res.FinalText)
	// The mock picks up the first main concern.
	assert.Contains(t, res.RawJSON.AnalysisSummary.RootCause, "separation_anxiety")
}

func TestAnalyzeNarrativeFailureUsesTemplate(t *testing.T) {
	eng := &fakeEngine{
		narrate: func(context.Context, llm.Prompt) (llm.MariNarrative, error) {
			return llm.MariNarrative{}, errors.New("bad json")
		},
	}
	a := newAnalyzer(t, eng, nil)

	res, err := a.AnalyzeTwoStage(context.Background(), testResponses(), []byte("img"), nil)
	require.NoError(t, err)
	assert.True(t, res.Flags.MariTemplateUsed)
	assert.Nil(t, res.MariStory)
	// Template keeps the expert facts and the fixed closing line.
	assert.Contains(t, res.FinalText, "콩이(2022년 5월)의 행동 분석 결과예요!")
	assert.Contains(t, res.FinalText, "분리불안")
	assert.Contains(t, res.FinalText, "잘하고 있어요")
	// Confidence is the expert's, untouched by the narrative fallback.
	assert.Equal(t, 0.85, res.ConfidenceScore)
}

func TestAnalyzeWritesTelemetryRecord(t *testing.T) {
	eng := &fakeEngine{
		vision: func(context.Context) (llm.VisionAnalysis, error) {
			return llm.VisionAnalysis{}, errors.New("boom")
		},
	}
	path := filepath.Join(t.TempDir(), "logs", "performance.jsonl")
	a := New(eng, Options{PerfLogPath: path, AppEnv: "test"}, nil)

	_, err := a.AnalyzeTwoStage(context.Background(), testResponses(), []byte("img"), nil)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan(), "expected one JSONL record")

	var rec struct {
		Name          string         `json:"name"`
		Status        string         `json:"status"`
		TotalDuration float64        `json:"total_duration"`
		Events        []any          `json:"events"`
		Metadata      map[string]any `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
	assert.Equal(t, "analyze_two_stage", rec.Name)
	assert.Equal(t, "success", rec.Status)
	assert.GreaterOrEqual(t, rec.TotalDuration, 0.0)
	assert.NotEmpty(t, rec.Events)
	assert.Equal(t, "콩이", rec.Metadata["dog_name"])
	assert.Equal(t, true, rec.Metadata["vision_fallback_used"])
	assert.False(t, sc.Scan(), "exactly one record per run")
}
