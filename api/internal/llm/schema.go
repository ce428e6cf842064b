package llm

import "fmt"

// ExactSolutionCount is the fixed cardinality for solutions and guidance in
// an ExpertAnalysis. The validator enforces it; the normalizer repairs to it.
const ExactSolutionCount = 3

// MockConfidence marks a result produced without any model call.
const MockConfidence = 0.3

// DefaultSolution is the placeholder appended when a model returns too few
// solutions. Clearly labeled as auto-generated.
func DefaultSolution() Solution {
	return Solution{
		Title:           "추가 솔루션",
		Content:         "정보가 부족하여 자동 생성된 솔루션입니다.",
		Details:         []string{"보호자님의 상황에 맞게 조정해주세요."},
		ExpectedOutcome: "점진적인 개선이 기대됩니다.",
	}
}

// DefaultGuidance is the placeholder appended when a model returns too few
// guidance items.
func DefaultGuidance() Guidance {
	return Guidance{
		Principle: "일관성 유지",
		Content:   "훈련은 일관되게 진행하는 것이 중요합니다.",
		Action:    "매일 같은 시간에 짧게라도 훈련을 반복하세요.",
	}
}

// ValidateExpert checks an ExpertAnalysis against the required shape.
// Checks run in order and the first failure short-circuits with a
// human-readable reason: required fields, exact array cardinality, then the
// confidence range.
func ValidateExpert(a ExpertAnalysis) (bool, string) {
	if a.AnalysisSummary.CoreIssue == "" {
		return false, "필수 필드 누락: analysis_summary.core_issue"
	}
	if a.CoreMessage == "" {
		return false, "필수 필드 누락: core_message"
	}
	if n := len(a.SolutionsBestFit); n != ExactSolutionCount {
		return false, fmt.Sprintf("solutions_best_fit는 정확히 %d개여야 합니다 (현재: %d개)", ExactSolutionCount, n)
	}
	if n := len(a.FutureGuidance); n != ExactSolutionCount {
		return false, fmt.Sprintf("future_guidance는 정확히 %d개여야 합니다 (현재: %d개)", ExactSolutionCount, n)
	}
	if a.ConfidenceScore < 0.0 || a.ConfidenceScore > 1.0 {
		return false, fmt.Sprintf("confidence_score는 0.0-1.0 범위여야 합니다 (현재: %g)", a.ConfidenceScore)
	}
	return true, ""
}

// NormalizeExpert repairs array cardinality only: over-long arrays are
// truncated, short ones padded with fresh default items. It is pure and
// total: the input is not mutated and any input yields a result. Type or
// content problems beyond cardinality are left as-is.
func NormalizeExpert(a ExpertAnalysis) ExpertAnalysis {
	a.SolutionsBestFit = normalizeSolutions(a.SolutionsBestFit)
	a.FutureGuidance = normalizeGuidance(a.FutureGuidance)
	return a
}

func normalizeSolutions(in []Solution) []Solution {
	out := make([]Solution, 0, ExactSolutionCount)
	for i := 0; i < len(in) && i < ExactSolutionCount; i++ {
		s := in[i]
		s.Details = append([]string(nil), s.Details...)
		out = append(out, s)
	}
	for len(out) < ExactSolutionCount {
		out = append(out, DefaultSolution())
	}
	return out
}

func normalizeGuidance(in []Guidance) []Guidance {
	out := make([]Guidance, 0, ExactSolutionCount)
	for i := 0; i < len(in) && i < ExactSolutionCount; i++ {
		out = append(out, in[i])
	}
	for len(out) < ExactSolutionCount {
		out = append(out, DefaultGuidance())
	}
	return out
}

// FallbackVisionAnalysis is the deterministic substitute used when the vision
// stage fails or times out. It never fails; an empty name falls back to the
// generic label.
func FallbackVisionAnalysis(dogName string) VisionAnalysis {
	if dogName == "" {
		dogName = "강아지"
	}
	return VisionAnalysis{
		BreedAnalysis:       "이미지 분석을 수행할 수 없어 품종 정보를 확인할 수 없습니다.",
		EmotionalState:      "표정 분석이 제한적입니다. 설문 응답을 중심으로 평가합니다.",
		PostureBodyLanguage: "자세 분석이 제한적입니다. 보호자의 설명을 우선합니다.",
		Environment:         "환경 정보가 제한적입니다.",
		BehavioralCues:      "이미지 기반 행동 분석이 제한적입니다. 설문 응답을 중심으로 분석합니다.",
		OverallAssessment:   dogName + "의 이미지 분석 중 오류가 발생했지만, 설문 응답을 바탕으로 최선의 분석을 제공합니다.",
	}
}

// MockExpertAnalysis is the terminal fallback when expert generation fails
// outright. It always satisfies the exact-count invariant and carries
// MockConfidence so downstream consumers can tell it apart by data alone.
func MockExpertAnalysis(problemType string) ExpertAnalysis {
	if problemType == "" {
		problemType = "barking"
	}
	sol := func(n int) Solution {
		return Solution{
			Title:           fmt.Sprintf("솔루션 %d", n),
			Content:         "기본 솔루션",
			Details:         []string{"임시 응답"},
			ExpectedOutcome: "개선 기대",
		}
	}
	gd := func(n int) Guidance {
		return Guidance{
			Principle: fmt.Sprintf("원칙 %d", n),
			Content:   "내용",
			Action:    "행동",
		}
	}
	return ExpertAnalysis{
		AnalysisSummary: AnalysisSummary{
			CoreIssue:          "분석 실패로 인한 기본 응답",
			RootCause:          "API 오류 (" + problemType + ")",
			KeyCharacteristics: []string{"정보 부족", "임시 응답", "재시도 권장"},
		},
		SolutionsBestFit: []Solution{sol(1), sol(2), sol(3)},
		FutureGuidance:   []Guidance{gd(1), gd(2), gd(3)},
		CoreMessage:      "일시적인 오류가 발생했습니다. 다시 시도해주세요.",
		ConfidenceScore:  MockConfidence,
	}
}
