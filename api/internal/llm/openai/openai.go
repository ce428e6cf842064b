package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"mari-ask/api/internal/llm"
	"mari-ask/api/internal/util"
)

const apiURL = "https://api.openai.com/v1/chat/completions"

type Engine struct {
	APIKey      string
	Model       string
	VisionModel string

	httpc *http.Client
	log   *zap.Logger
}

func New(key, model, visionModel string, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		APIKey:      key,
		Model:       model,
		VisionModel: visionModel,
		httpc:       &http.Client{Timeout: 60 * time.Second},
		log:         log.Named("openai"),
	}
}

func (e *Engine) Name() string     { return "openai" }
func (e *Engine) GetModel() string { return e.Model }

func (e *Engine) Vision(ctx context.Context, image []byte, opt llm.CallOptions) (llm.VisionAnalysis, error) {
	if e.APIKey == "" {
		return llm.VisionAnalysis{}, fmt.Errorf("OPENAI_API_KEY is empty")
	}
	model := e.VisionModel
	if opt.ModelOverride != "" {
		model = opt.ModelOverride
	}
	mime := util.SniffMimeHTTP(image)
	dataURL := util.MakeDataURL(mime, base64.StdEncoding.EncodeToString(image))

	body := map[string]any{
		"model": model,
		"messages": []any{
			map[string]any{"role": "system", "content": llm.VisionSystem},
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "text", "text": llm.VisionPrompt},
					map[string]any{"type": "image_url", "image_url": map[string]any{"url": dataURL, "detail": "high"}},
				},
			},
		},
		"max_tokens":      1000,
		"temperature":     0.3,
		"response_format": map[string]any{"type": "json_object"},
	}

	var out llm.VisionAnalysis
	err := e.callJSON(ctx, "vision", body, opt.MaxRetries, &out)
	return out, err
}

func (e *Engine) Expert(ctx context.Context, p llm.Prompt, opt llm.CallOptions) (llm.ExpertAnalysis, error) {
	var out llm.ExpertAnalysis
	err := e.textJSON(ctx, "expert", p, opt, &out)
	return out, err
}

func (e *Engine) Narrate(ctx context.Context, p llm.Prompt, opt llm.CallOptions) (llm.MariNarrative, error) {
	var out llm.MariNarrative
	err := e.textJSON(ctx, "narrate", p, opt, &out)
	return out, err
}

func (e *Engine) textJSON(ctx context.Context, stage string, p llm.Prompt, opt llm.CallOptions, out any) error {
	if e.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is empty")
	}
	model := e.Model
	if opt.ModelOverride != "" {
		model = opt.ModelOverride
	}
	body := map[string]any{
		"model": model,
		"messages": []any{
			map[string]any{"role": "system", "content": p.System},
			map[string]any{"role": "user", "content": p.User},
		},
		"max_tokens":      8192,
		"temperature":     opt.Temperature,
		"response_format": map[string]any{"type": "json_object"},
	}
	return e.callJSON(ctx, stage, body, opt.MaxRetries, out)
}

// callJSON posts one chat-completions request, retrying transport, non-2xx
// and JSON-parse failures alike with exponential backoff.
func (e *Engine) callJSON(ctx context.Context, stage string, body map[string]any, maxRetries int, out any) error {
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
		if err := e.once(ctx, stage, body, out); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("openai %s: all %d attempts failed: %w", stage, maxRetries+1, lastErr)
}

func (e *Engine) once(ctx context.Context, stage string, body map[string]any, out any) error {
	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.APIKey)

	resp, err := e.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		x, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("openai %s %d: %s", stage, resp.StatusCode, strings.TrimSpace(string(x)))
	}

	var raw struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return err
	}
	if len(raw.Choices) == 0 {
		return fmt.Errorf("openai %s: empty response", stage)
	}
	txt := util.StripCodeFences(strings.TrimSpace(raw.Choices[0].Message.Content))
	if err := json.Unmarshal([]byte(txt), out); err != nil {
		return fmt.Errorf("openai %s: bad JSON: %w", stage, err)
	}
	e.log.Debug("call ok", zap.String("stage", stage), zap.Int("response_chars", len(txt)))
	return nil
}
