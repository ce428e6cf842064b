package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"mari-ask/api/internal/llm"
	"mari-ask/api/internal/util"
)

type Engine struct {
	APIKey      string
	Model       string
	VisionModel string

	log *zap.Logger
}

func New(apiKey, model, visionModel string, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		APIKey:      strings.TrimSpace(apiKey),
		Model:       strings.TrimSpace(model),
		VisionModel: strings.TrimSpace(visionModel),
		log:         log.Named("gemini"),
	}
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.Model }

func (e *Engine) Vision(ctx context.Context, image []byte, opt llm.CallOptions) (llm.VisionAnalysis, error) {
	var out llm.VisionAnalysis
	mime := util.SniffMimeHTTP(image)
	parts := []genai.Part{
		genai.Text(llm.VisionPrompt),
		&genai.Blob{MIMEType: mime, Data: image},
	}
	err := e.generate(ctx, "vision", e.visionModel(opt), llm.VisionSystem, parts, 0.3, opt.MaxRetries, &out)
	return out, err
}

func (e *Engine) Expert(ctx context.Context, p llm.Prompt, opt llm.CallOptions) (llm.ExpertAnalysis, error) {
	var out llm.ExpertAnalysis
	err := e.generate(ctx, "expert", e.textModel(opt), p.System, []genai.Part{genai.Text(p.User)}, opt.Temperature, opt.MaxRetries, &out)
	return out, err
}

func (e *Engine) Narrate(ctx context.Context, p llm.Prompt, opt llm.CallOptions) (llm.MariNarrative, error) {
	var out llm.MariNarrative
	err := e.generate(ctx, "narrate", e.textModel(opt), p.System, []genai.Part{genai.Text(p.User)}, opt.Temperature, opt.MaxRetries, &out)
	return out, err
}

func (e *Engine) visionModel(opt llm.CallOptions) string {
	if opt.ModelOverride != "" {
		return opt.ModelOverride
	}
	return e.VisionModel
}

func (e *Engine) textModel(opt llm.CallOptions) string {
	if opt.ModelOverride != "" {
		return opt.ModelOverride
	}
	return e.Model
}

// generate runs one schema-constrained call with retries. The response MIME
// type pins strict JSON; parse failures count against the same retry budget
// as transport errors.
func (e *Engine) generate(ctx context.Context, stage, model, system string, parts []genai.Part, temperature float64, maxRetries int, out any) error {
	if e.APIKey == "" {
		return errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return err
	}
	defer cl.Close()

	m := cl.GenerativeModel(model)
	if m == nil {
		return fmt.Errorf("gemini: model is nil")
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(float32(temperature)),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := llm.Backoff(attempt - 1)
			e.log.Warn("retrying after error",
				zap.String("stage", stage),
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait),
				zap.Error(lastErr))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		txt := firstText(resp)
		if txt == "" {
			lastErr = fmt.Errorf("gemini %s: empty response", stage)
			continue
		}
		txt = util.StripCodeFences(strings.TrimSpace(txt))
		if err := json.Unmarshal([]byte(txt), out); err != nil {
			lastErr = fmt.Errorf("gemini %s: bad JSON: %w", stage, err)
			continue
		}
		e.log.Debug("call ok", zap.String("stage", stage), zap.Int("response_chars", len(txt)))
		return nil
	}
	return fmt.Errorf("gemini %s: all %d attempts failed: %w", stage, maxRetries+1, lastErr)
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
