// Package analyze runs the two-stage behavioral analysis pipeline:
// vision pre-analysis, expert structured diagnosis with a self-healing
// repair ladder, then the Mari persona narrative conversion. Every stage
// absorbs its own failures into a deterministic fallback, so for any
// well-formed input the pipeline returns a complete result.
package analyze

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"mari-ask/api/internal/llm"
	"mari-ask/api/internal/perf"
	"mari-ask/api/internal/survey"
)

// ErrMissingPhoto is the one precondition violation the pipeline raises:
// analysis without a photo is a caller error, not a runtime fault.
var ErrMissingPhoto = errors.New("dog photo is required")

// Flags records which fallback paths a run exercised. They are telemetry,
// not part of the report payload.
type Flags struct {
	VisionFallbackUsed bool `json:"-"`
	ExpertMockUsed     bool `json:"-"`
	MariTemplateUsed   bool `json:"-"`
}

// Result is the only externally visible artifact of one pipeline run.
// MariStory is nil when the narrative stage fell back to the template
// renderer; FinalText is always non-empty.
type Result struct {
	FinalText       string             `json:"final_text"`
	ConfidenceScore float64            `json:"confidence_score"`
	RawJSON         llm.ExpertAnalysis `json:"raw_json"`
	MariStory       *llm.MariNarrative `json:"mari_story"`

	Flags Flags `json:"-"`
}

type Options struct {
	// VisionTimeout bounds the vision stage; on expiry the canned fallback
	// substitutes and the pipeline continues.
	VisionTimeout time.Duration
	// ExpertTimeout, when positive, bounds the expert stage including its
	// repair ladder. Zero leaves it unbounded.
	ExpertTimeout time.Duration

	ExpertTemperature float64
	MariTemperature   float64

	VisionMaxRetries    int
	ExpertMaxRetries    int
	NarrativeMaxRetries int

	// PerfLogPath receives one JSONL telemetry record per run.
	PerfLogPath string
	AppEnv      string
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.VisionTimeout <= 0 {
		out.VisionTimeout = 20 * time.Second
	}
	if out.ExpertTemperature == 0 {
		out.ExpertTemperature = 0.3
	}
	if out.MariTemperature == 0 {
		out.MariTemperature = 0.7
	}
	if out.VisionMaxRetries == 0 {
		out.VisionMaxRetries = 2
	}
	if out.ExpertMaxRetries == 0 {
		out.ExpertMaxRetries = 3
	}
	if out.NarrativeMaxRetries == 0 {
		out.NarrativeMaxRetries = 2
	}
	return out
}

type Analyzer struct {
	engine llm.Engine
	opts   Options
	log    *zap.Logger
}

func New(engine llm.Engine, opts Options, log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{
		engine: engine,
		opts:   opts.withDefaults(),
		log:    log.Named("analyze"),
	}
}

// AnalyzeTwoStage runs the full pipeline. behaviorMedia is accepted for
// forward compatibility and currently has no effect on the output.
func (a *Analyzer) AnalyzeTwoStage(ctx context.Context, responses survey.Responses, dogPhoto, behaviorMedia []byte) (res *Result, err error) {
	if len(dogPhoto) == 0 {
		return nil, ErrMissingPhoto
	}
	_ = behaviorMedia

	dogName := responses.DogName()
	dogAge := responses.DogBirth()
	hardestPart := responses.HardestPart()
	mainConcerns := responses.MainConcerns()

	tracker := perf.NewTracker(a.opts.PerfLogPath, "analyze_two_stage", map[string]any{
		"dog_name":      dogName,
		"app_env":       a.opts.AppEnv,
		"main_concerns": mainConcerns,
	}, a.log)

	var flags Flags
	defer func() {
		tracker.AddMetadata(map[string]any{
			"vision_fallback_used":   flags.VisionFallbackUsed,
			"used_mock_result":       flags.ExpertMockUsed,
			"mari_template_fallback": flags.MariTemplateUsed,
		})
		if err != nil {
			tracker.SetStatus("error", err.Error())
			tracker.Finish("error")
			return
		}
		tracker.Finish("success")
	}()

	// Stage 0: vision pre-analysis under its own timeout. A slow or failed
	// vision call must not sink the run.
	vision := a.runVision(ctx, tracker, dogPhoto, dogName, &flags)
	tracker.MarkEvent("vision_fallback", flags.VisionFallbackUsed)

	// Stage 1: expert diagnosis with the repair ladder. Never fails.
	expert := a.runExpert(ctx, tracker, responses, vision, mainConcerns, &flags)
	tracker.MarkEvent("expert_mock_fallback", flags.ExpertMockUsed)

	// Stage 2: persona narrative, template fallback on failure. Never fails.
	finalText, story := a.runNarrative(ctx, tracker, expert, dogName, dogAge, hardestPart, &flags)
	tracker.MarkEvent("mari_template_fallback", flags.MariTemplateUsed)

	return &Result{
		FinalText:       finalText,
		ConfidenceScore: expert.ConfidenceScore,
		RawJSON:         expert,
		MariStory:       story,
		Flags:           flags,
	}, nil
}

// runVision launches the vision call as a cancellable task and waits for it
// under VisionTimeout. Timeout or error both substitute the canned fallback;
// the task's eventual outcome after cancellation is discarded.
func (a *Analyzer) runVision(ctx context.Context, tracker *perf.Tracker, photo []byte, dogName string, flags *Flags) llm.VisionAnalysis {
	visionCtx, cancel := context.WithTimeout(ctx, a.opts.VisionTimeout)
	defer cancel()

	type visionOut struct {
		va  llm.VisionAnalysis
		err error
	}
	ch := make(chan visionOut, 1)
	go func() {
		va, err := a.engine.Vision(visionCtx, photo, llm.CallOptions{MaxRetries: a.opts.VisionMaxRetries})
		ch <- visionOut{va, err}
	}()

	end := tracker.Span("vision_analysis")
	select {
	case out := <-ch:
		end(out.err)
		if out.err != nil {
			flags.VisionFallbackUsed = true
			a.log.Warn("vision failed, using fallback", zap.Error(out.err))
			return llm.FallbackVisionAnalysis(dogName)
		}
		a.log.Info("vision analysis ok", zap.String("dog_name", dogName))
		return out.va
	case <-visionCtx.Done():
		end(visionCtx.Err())
		flags.VisionFallbackUsed = true
		a.log.Warn("vision timed out, using fallback",
			zap.Duration("timeout", a.opts.VisionTimeout))
		return llm.FallbackVisionAnalysis(dogName)
	}
}

// runExpert walks the repair ladder:
// generate -> validate -> normalize -> ask-to-fix -> normalize -> mock.
// Whatever path it takes, the returned analysis satisfies the exact-3
// invariant on solutions and guidance.
func (a *Analyzer) runExpert(ctx context.Context, tracker *perf.Tracker, responses survey.Responses, vision llm.VisionAnalysis, mainConcerns []string, flags *Flags) llm.ExpertAnalysis {
	if a.opts.ExpertTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.ExpertTimeout)
		defer cancel()
	}

	end := tracker.Span("expert_analysis")

	prompt := llm.BuildExpertPrompt(responses, vision)

	// Generate.
	raw, err := a.engine.Expert(ctx, prompt, llm.CallOptions{
		MaxRetries:  a.opts.ExpertMaxRetries,
		Temperature: a.opts.ExpertTemperature,
	})
	if err != nil {
		// Total generation failure: skip the ladder, return the mock.
		end(err)
		flags.ExpertMockUsed = true
		a.log.Error("expert generation failed, using mock result", zap.Error(err))
		problem := ""
		if len(mainConcerns) > 0 {
			problem = mainConcerns[0]
		}
		return llm.MockExpertAnalysis(problem)
	}

	// Validate.
	if ok, _ := llm.ValidateExpert(raw); ok {
		end(nil)
		a.log.Info("expert analysis valid on first try")
		return raw
	}

	// Normalize, re-validate.
	raw = llm.NormalizeExpert(raw)
	ok, msg := llm.ValidateExpert(raw)
	if ok {
		end(nil)
		a.log.Info("expert analysis repaired by normalize")
		return raw
	}

	// Ask the model to fix its own output, one low-temperature attempt.
	a.log.Warn("normalize insufficient, asking model to fix", zap.String("reason", msg))
	fixed, fixErr := a.engine.Expert(ctx, llm.BuildFixPrompt(raw, msg, prompt.User), llm.CallOptions{
		MaxRetries:  1,
		Temperature: 0.3,
	})
	if fixErr != nil {
		// Best effort: normalize what we have and accept it.
		end(nil)
		a.log.Error("fix prompt failed, final normalize", zap.Error(fixErr))
		return llm.NormalizeExpert(raw)
	}
	if ok, msg := llm.ValidateExpert(fixed); !ok {
		end(nil)
		a.log.Warn("fixed JSON still invalid, final normalize", zap.String("reason", msg))
		return llm.NormalizeExpert(fixed)
	}
	end(nil)
	a.log.Info("expert analysis repaired by fix prompt")
	return fixed
}

// runNarrative converts the expert JSON to the Mari story and renders it.
// On any failure it falls back to the deterministic template drawn from the
// expert JSON itself, so the returned text is always non-empty.
func (a *Analyzer) runNarrative(ctx context.Context, tracker *perf.Tracker, expert llm.ExpertAnalysis, dogName, dogAge, hardestPart string, flags *Flags) (string, *llm.MariNarrative) {
	end := tracker.Span("mari_conversion")

	prompt := llm.BuildMariPrompt(expert, dogName, dogAge, hardestPart)
	story, err := a.engine.Narrate(ctx, prompt, llm.CallOptions{
		MaxRetries:  a.opts.NarrativeMaxRetries,
		Temperature: a.opts.MariTemperature,
	})
	if err != nil {
		end(err)
		flags.MariTemplateUsed = true
		a.log.Error("narrative conversion failed, using template", zap.Error(err))
		return SimpleTemplate(expert, dogName, dogAge), nil
	}
	end(nil)
	a.log.Info("narrative conversion ok")
	return FormatMariStory(&story), &story
}
