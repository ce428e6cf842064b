package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"mari-ask/api/internal/survey"
	"mari-ask/api/internal/util"
)

// VisionSystem frames the vision model as a behavior expert describing the
// photo; the analysis prompt pins the six-field JSON shape.
const VisionSystem = `당신은 반려견 행동 전문가로서 이미지를 분석하는 역할입니다. 주석이나 설명 없이 JSON만 출력하세요.`

const VisionPrompt = `아래 이미지를 보고 다음 항목들을 상세히 분석해주세요.

## 분석 항목
1. 품종 및 외형적 특징 — 품종 추정(확실하지 않으면 "추정" 명시), 크기, 털, 체형
2. 표정 및 감정 상태 — 눈/귀/입의 상태, 전체적인 감정 (편안함/긴장/흥분/불안/공포)
3. 자세 및 신체 언어 — 몸의 자세, 꼬리 위치, 근육 긴장도
4. 주변 환경 및 맥락 — 촬영 장소, 주변 사물이나 사람, 환경의 영향
5. 행동적 단서 — 스트레스 신호(헥헥거림/하품/눈 피함), 긍정적 신호

## 출력 형식
반드시 아래 JSON 형식으로만 응답하세요.
{
    "breed_analysis": "품종 및 외형 특징 (2-3 문장)",
    "emotional_state": "표정과 감정 상태 분석 (2-3 문장)",
    "posture_body_language": "자세 및 신체 언어 (2-3 문장)",
    "environment": "주변 환경 및 맥락 (1-2 문장)",
    "behavioral_cues": "행동적 단서 및 스트레스 신호 (2-3 문장)",
    "overall_assessment": "전체적인 평가 (1-2 문장)"
}

IMPORTANT: 한국어로 작성. 객관적이고 구체적으로 묘사. 추측은 "~으로 보임" 등으로 표현. JSON 형식 엄수.`

// ExpertPersona is the system role for the expert stage. English rules with
// Korean output keeps instruction-following tight on both backend families.
const ExpertPersona = `You are a professional dog behavior trainer with 10+ years of experience.

## Your Task
Analyze the dog's behavior based on:
1. Vision image analysis results (if provided)
2. Survey responses from the owner

## Critical Output Rules (MUST FOLLOW)
1. **solutions_best_fit**: EXACTLY 3 items (no more, no less)
2. **future_guidance**: EXACTLY 3 items (no more, no less)
3. **Specific numbers required**: distances ("3-5m"), times ("5 minutes daily"),
   frequencies ("3 times per day"), durations ("2 weeks")
4. **confidence_score**: 0.0-1.0 based on information completeness
   (0.8-1.0 complete + clear, 0.5-0.7 moderate, 0.0-0.4 limited)

## Output Format
- Language: Korean (한국어)
- Format: JSON only (no markdown, no explanations)

## JSON Shape (STRICT)
{
    "analysis_summary": {
        "core_issue": "핵심 문제 진단 (2-3 문장)",
        "root_cause": "근본 원인 분석 (2-3 문장)",
        "key_characteristics": ["특징 1", "특징 2", "특징 3"]
    },
    "solutions_best_fit": [
        {"title": "...", "content": "...", "details": ["..."], "expected_outcome": "..."}
    ],
    "future_guidance": [
        {"principle": "...", "content": "...", "action": "..."}
    ],
    "core_message": "훈련 철학 메시지 (1-2 문장)",
    "confidence_score": 0.85
}

CRITICAL: Output ONLY valid JSON matching the shape above.`

// MariPersona is the warm second-stage voice: "Mari", the dog speaking to its
// owner through a trainer's pen.
const MariPersona = `너는 "마리" — 보호자의 반려견 마음을 대신 전하는 따뜻한 행동 전문가 페르소나다.
전문가 분석 JSON을 받아, 보호자가 읽으며 위로받고 바로 실천할 수 있는 이야기로 바꾼다.

규칙:
1. 말투는 따뜻하고 다정하게, 보호자를 탓하지 않는다.
2. 전문가 분석의 사실 관계(수치, 솔루션 내용)는 바꾸지 않는다.
3. solutions는 정확히 3개, guidance는 정확히 3개.
4. 각 솔루션의 steps는 2-4개의 실행 단계로 쓴다.
5. JSON만 출력한다 (설명 불필요).

출력 JSON 형식:
{
    "header": {"title": "...", "summary": "..."},
    "solutions": [{"title": "...", "content": "...", "steps": ["...", "..."], "outcome": "..."}],
    "guidance": [{"principle": "...", "description": "...", "action": "..."}],
    "mari_closing": {"core_message": "...", "final_quote": "..."}
}`

// FixPersona is the system role for the ask-to-fix repair call.
const FixPersona = `너는 JSON 검증 전문가다. 규칙을 정확히 따른 JSON만 출력한다.`

// BuildExpertPrompt assembles the expert-stage prompt: structured survey
// answers plus the six vision fields, with the owner's hardest challenge
// called out as the primary focus.
func BuildExpertPrompt(r survey.Responses, vision VisionAnalysis) Prompt {
	var b strings.Builder

	fmt.Fprintf(&b, "Analyze %s's behavior and output JSON.\n", r.DogName())

	b.WriteString("\n## Image Analysis Results\n")
	fmt.Fprintf(&b, "**Breed & Appearance:** %s\n", orNA(vision.BreedAnalysis))
	fmt.Fprintf(&b, "**Emotional State:** %s\n", orNA(vision.EmotionalState))
	fmt.Fprintf(&b, "**Posture & Body Language:** %s\n", orNA(vision.PostureBodyLanguage))
	fmt.Fprintf(&b, "**Environment:** %s\n", orNA(vision.Environment))
	fmt.Fprintf(&b, "**Behavioral Cues:** %s\n", orNA(vision.BehavioralCues))
	fmt.Fprintf(&b, "**Overall Assessment:** %s\n", orNA(vision.OverallAssessment))

	b.WriteString("\n## Dog Information\n")
	fmt.Fprintf(&b, "- **Name:** %s\n", r.DogName())
	fmt.Fprintf(&b, "- **Age:** %s\n", r.DogBirth())
	fmt.Fprintf(&b, "- **Breed:** %s\n", r.Text("dog_breed", survey.Unknown))
	fmt.Fprintf(&b, "- **Gender:** %s\n", r.Text("dog_gender", survey.Unknown))
	fmt.Fprintf(&b, "- **Neutered:** %s\n", r.Text("dog_neutered", survey.Unknown))
	fmt.Fprintf(&b, "- **Other Pets:** %s\n", r.OtherPets())

	b.WriteString("\n## Personality Traits\n")
	fmt.Fprintf(&b, "- **Usual Traits:** %s\n", joinOr(r.List("personality_traits"), "Unknown"))
	fmt.Fprintf(&b, "- **Most Active Time:** %s\n", r.Text("activity_time", survey.Unknown))

	b.WriteString("\n## Problem Behavior (CRITICAL - PRIMARY FOCUS)\n")
	fmt.Fprintf(&b, "- **Main Concerns:** %s\n", joinOr(r.MainConcerns(), "Unknown"))
	fmt.Fprintf(&b, "- **When Started:** %s\n", r.Text("problem_start_time", survey.Unknown))
	fmt.Fprintf(&b, "- **Trigger Situations:** %s\n", r.Text("problem_situation", survey.Unknown))
	fmt.Fprintf(&b, "- **Already Tried:** %s\n", r.Text("tried_solutions", survey.None))
	fmt.Fprintf(&b, "- **⚠️ OWNER'S BIGGEST CHALLENGE (FOCUS HERE):** %q\n", r.HardestPart())

	b.WriteString("\n## Living Environment\n")
	fmt.Fprintf(&b, "- **Housing Type:** %s\n", r.Text("living_environment", survey.Unknown))
	fmt.Fprintf(&b, "- **Family Members:** %s\n", r.Text("family_members", survey.Unknown))
	fmt.Fprintf(&b, "- **Daily Outing Schedule:** %s\n", r.Text("outing_time", survey.Unknown))

	b.WriteString("\n---\n\n")
	b.WriteString("Output EXACTLY 3 solutions and EXACTLY 3 guidance items. ")
	b.WriteString("Include specific numbers in every solution. JSON only.\n")

	return Prompt{System: ExpertPersona, User: b.String()}
}

// BuildMariPrompt embeds the full expert JSON (pretty-printed) for the
// persona conversion call.
func BuildMariPrompt(expert ExpertAnalysis, dogName, dogAge, hardestPart string) Prompt {
	raw, _ := json.MarshalIndent(expert, "", "  ")

	user := fmt.Sprintf(`아래는 %s(%s)에 대한 전문가 분석 JSON입니다.
보호자가 가장 힘들어하는 점: %q

**전문가 분석:**
%s

이 분석을 마리의 목소리로 변환해 JSON으로 출력하세요.
- solutions 정확히 3개, guidance 정확히 3개
- 보호자가 읽고 바로 실천할 수 있게 구체적으로
`, dogName, dogAge, hardestPart, string(raw))

	return Prompt{System: MariPersona, User: user}
}

// BuildFixPrompt embeds the broken JSON, the validation failure, and an
// excerpt of the original requirements for the ask-to-fix repair call.
func BuildFixPrompt(broken ExpertAnalysis, errorMessage, originalUser string) Prompt {
	raw, _ := json.MarshalIndent(broken, "", "  ")

	user := fmt.Sprintf(`아래 JSON이 규칙을 위반했습니다. 정확히 수정해주세요.

**원래 요구사항:**
%s

**문제가 있는 JSON:**
%s

**검증 실패 사유:**
%s

**수정 요구사항:**
1. solutions_best_fit는 정확히 3개여야 합니다.
2. future_guidance는 정확히 3개여야 합니다.
3. 모든 필수 필드를 포함해야 합니다.
4. JSON만 출력하세요 (설명 불필요).
`, util.Truncate(originalUser, 500), string(raw), errorMessage)

	return Prompt{System: FixPersona, User: user}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func joinOr(items []string, def string) string {
	if len(items) == 0 {
		return def
	}
	return strings.Join(items, ", ")
}
