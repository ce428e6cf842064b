package llm

// VisionAnalysis is the fixed six-field description produced by the vision
// pre-analysis stage. Downstream consumers never distinguish a model-produced
// value from the canned fallback.
type VisionAnalysis struct {
	BreedAnalysis       string `json:"breed_analysis"`
	EmotionalState      string `json:"emotional_state"`
	PostureBodyLanguage string `json:"posture_body_language"`
	Environment         string `json:"environment"`
	BehavioralCues      string `json:"behavioral_cues"`
	OverallAssessment   string `json:"overall_assessment"`
}

type AnalysisSummary struct {
	CoreIssue          string   `json:"core_issue"`
	RootCause          string   `json:"root_cause"`
	KeyCharacteristics []string `json:"key_characteristics"`
}

type Solution struct {
	Title           string   `json:"title"`
	Content         string   `json:"content"`
	Details         []string `json:"details"`
	ExpectedOutcome string   `json:"expected_outcome,omitempty"`
}

type Guidance struct {
	Principle string `json:"principle"`
	Content   string `json:"content"`
	Action    string `json:"action,omitempty"`
}

// ExpertAnalysis is the structured diagnosis produced by the expert stage.
// SolutionsBestFit and FutureGuidance must hold exactly ExactSolutionCount
// items each; the repair ladder in the analyze package enforces this.
type ExpertAnalysis struct {
	AnalysisSummary  AnalysisSummary `json:"analysis_summary"`
	SolutionsBestFit []Solution      `json:"solutions_best_fit"`
	FutureGuidance   []Guidance      `json:"future_guidance"`
	CoreMessage      string          `json:"core_message"`
	ConfidenceScore  float64         `json:"confidence_score"`
}

type MariHeader struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

type MariSolution struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Steps   []string `json:"steps"`
	Outcome string   `json:"outcome,omitempty"`
}

type MariGuidance struct {
	Principle   string `json:"principle"`
	Description string `json:"description"`
	Action      string `json:"action,omitempty"`
}

type MariClosing struct {
	CoreMessage string `json:"core_message"`
	FinalQuote  string `json:"final_quote,omitempty"`
}

// MariNarrative is the persona-toned story produced by the narrative stage,
// rendered to the user-facing report text.
type MariNarrative struct {
	Header      MariHeader     `json:"header"`
	Solutions   []MariSolution `json:"solutions"`
	Guidance    []MariGuidance `json:"guidance"`
	MariClosing MariClosing    `json:"mari_closing"`
}
