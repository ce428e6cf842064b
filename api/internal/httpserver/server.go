// Package httpserver exposes the survey wizard and analysis API. Handlers
// are thin: they shuffle session state, and hand the heavy lifting to the
// analyze pipeline through the background job runner.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"mari-ask/api/internal/analyze"
	"mari-ask/api/internal/config"
	"mari-ask/api/internal/csvlog"
	"mari-ask/api/internal/jobs"
	"mari-ask/api/internal/media"
	"mari-ask/api/internal/session"
	"mari-ask/api/internal/store"
	"mari-ask/api/internal/survey"
)

// Notifier receives completion events; implementations must be best-effort.
type Notifier interface {
	AnalysisCompleted(dogName string, concerns []string, res *analyze.Result)
}

type Server struct {
	cfg      *config.Config
	log      *zap.Logger
	catalog  *survey.Catalog
	sessions *session.Store
	analyzer *analyze.Analyzer
	runner   *jobs.Runner

	// Optional sinks; nil when not configured.
	results  *store.ResultsRepo
	notifier Notifier

	engineName  string
	engineModel string
}

func New(cfg *config.Config, log *zap.Logger, catalog *survey.Catalog, analyzer *analyze.Analyzer, runner *jobs.Runner) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		log:      log.Named("http"),
		catalog:  catalog,
		sessions: session.NewStore(),
		analyzer: analyzer,
		runner:   runner,
	}
}

// Sessions exposes the session registry for periodic expiry sweeps.
func (s *Server) Sessions() *session.Store { return s.sessions }

// WithResults attaches the optional Postgres audit sink.
func (s *Server) WithResults(r *store.ResultsRepo) *Server { s.results = r; return s }

// WithNotifier attaches the optional completion notifier.
func (s *Server) WithNotifier(n Notifier) *Server { s.notifier = n; return s }

// WithEngineInfo records which backend serves this process, for audit rows.
func (s *Server) WithEngineInfo(name, model string) *Server {
	s.engineName, s.engineModel = name, model
	return s
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/api/questions", s.handleQuestions).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/answers", s.handleAnswers).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}/photo", s.handlePhoto).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}/analyze", s.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}/progress", s.handleProgress).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/result", s.handleResult).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleQuestions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	st := s.sessions.Create()
	s.log.Info("session created", zap.String("session_id", st.ID))
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": st.ID,
		"steps":      s.catalog.Steps(),
	})
}

func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) *session.State {
	id := mux.Vars(r)["id"]
	st, ok := s.sessions.Get(id)
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown session")
		return nil
	}
	return st
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	st := s.sessionFor(w, r)
	if st == nil {
		return
	}
	responses, photo, _ := st.Snapshot()
	job := st.Job()
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":       st.ID,
		"step":             st.Step(),
		"steps":            s.catalog.Steps(),
		"has_photo":        len(photo) > 0,
		"missing_required": s.catalog.MissingRequired(responses),
		"analysis_running": job != nil && !job.Done(),
	})
}

type answersRequest struct {
	Answers map[string]any `json:"answers"`
	// Advance moves the wizard to the next step after merging.
	Advance bool `json:"advance"`
}

func (s *Server) handleAnswers(w http.ResponseWriter, r *http.Request) {
	st := s.sessionFor(w, r)
	if st == nil {
		return
	}
	var req answersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	step := st.Merge(req.Answers, req.Advance, s.catalog.Steps())
	writeJSON(w, http.StatusOK, map[string]any{"step": step})
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	st := s.sessionFor(w, r)
	if st == nil {
		return
	}
	if err := r.ParseMultipartForm(media.MaxUploadBytes); err != nil {
		writeErr(w, http.StatusBadRequest, "bad multipart form: "+err.Error())
		return
	}
	file, _, err := r.FormFile("photo")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "missing photo field")
		return
	}
	defer file.Close()
	raw, err := io.ReadAll(io.LimitReader(file, media.MaxUploadBytes+1))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "read photo: "+err.Error())
		return
	}
	if len(raw) > media.MaxUploadBytes {
		writeErr(w, http.StatusRequestEntityTooLarge, "photo too large")
		return
	}
	normalized, err := media.NormalizeJPEG(raw)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	st.SetPhoto(normalized)
	writeJSON(w, http.StatusOK, map[string]any{"bytes": len(normalized)})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	st := s.sessionFor(w, r)
	if st == nil {
		return
	}
	if job := st.Job(); job != nil && !job.Done() {
		writeErr(w, http.StatusConflict, "analysis already running")
		return
	}
	// Snapshot decouples the running pipeline from later answer merges on
	// the same session.
	responses, photo, behaviorMedia := st.Snapshot()
	if missing := s.catalog.MissingRequired(responses); len(missing) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":            "missing required answers",
			"missing_required": missing,
		})
		return
	}
	if len(photo) == 0 {
		writeErr(w, http.StatusBadRequest, "photo not uploaded")
		return
	}

	sessionID := st.ID
	job := s.runner.Submit(func(ctx context.Context) (any, error) {
		res, err := s.analyzer.AnalyzeTwoStage(ctx, responses, photo, behaviorMedia)
		if err != nil {
			return nil, err
		}
		s.afterAnalysis(ctx, sessionID, responses, res)
		return res, nil
	})
	st.SetJob(job)
	writeJSON(w, http.StatusAccepted, map[string]any{"started_at": job.StartedAt})
}

// afterAnalysis runs the audit sinks. Each is independent and best-effort:
// a failed CSV row or insert must not disturb the already-computed result.
func (s *Server) afterAnalysis(ctx context.Context, sessionID string, responses survey.Responses, res *analyze.Result) {
	if err := csvlog.Save(s.cfg.CSVPath(), responses, res); err != nil {
		s.log.Warn("csv audit write failed", zap.Error(err))
	}
	if s.results != nil {
		raw, _ := json.Marshal(res.RawJSON)
		resp, _ := json.Marshal(responses)
		_, err := s.results.Insert(ctx, store.ResultRow{
			SessionID:          sessionID,
			DogName:            responses.DogName(),
			MainConcerns:       responses.MainConcerns(),
			Engine:             s.engineName,
			Model:              s.engineModel,
			Confidence:         res.ConfidenceScore,
			FinalText:          res.FinalText,
			RawJSON:            raw,
			Responses:          resp,
			VisionFallbackUsed: res.Flags.VisionFallbackUsed,
			ExpertMockUsed:     res.Flags.ExpertMockUsed,
			MariTemplateUsed:   res.Flags.MariTemplateUsed,
		})
		if err != nil {
			s.log.Warn("postgres audit insert failed", zap.Error(err))
		}
	}
	if s.notifier != nil {
		s.notifier.AnalysisCompleted(responses.DogName(), responses.MainConcerns(), res)
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	st := s.sessionFor(w, r)
	if st == nil {
		return
	}
	job := st.Job()
	if job == nil {
		writeErr(w, http.StatusNotFound, "analysis not started")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"done":     job.Done(),
		"progress": job.Progress(s.cfg.ExpectedAnalysisTime),
		"elapsed":  time.Since(job.StartedAt).Seconds(),
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	st := s.sessionFor(w, r)
	if st == nil {
		return
	}
	job := st.Job()
	if job == nil {
		writeErr(w, http.StatusNotFound, "analysis not started")
		return
	}
	if !job.Done() {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"done":     false,
			"progress": job.Progress(s.cfg.ExpectedAnalysisTime),
		})
		return
	}
	out, err := job.Result()
	if err != nil {
		if errors.Is(err, analyze.ErrMissingPhoto) {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("analysis job failed", zap.String("session_id", st.ID), zap.Error(err))
		writeErr(w, http.StatusBadGateway, "analysis failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}
