package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/condition-eval/internal/analytics"
	"github.com/sells-group/condition-eval/internal/delta"
	"github.com/sells-group/condition-eval/internal/matrix"
	"github.com/sells-group/condition-eval/internal/model"
	"github.com/sells-group/condition-eval/internal/optimize"
	"github.com/sells-group/condition-eval/internal/store"
	"github.com/sells-group/condition-eval/internal/threshold"
	"github.com/sells-group/condition-eval/internal/verdict"
)

var errWorkingChanged = errors.New("working thresholds changed while the request ran; reload and retry")

type thresholdsResponse struct {
	Baseline threshold.Document `json:"baseline"`
	Working  threshold.Document `json:"working"`
	Modified bool               `json:"modified"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "records": len(s.records)})
}

func (s *Server) handleThresholds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.thresholds())
}

func (s *Server) thresholds() thresholdsResponse {
	return thresholdsResponse{
		Baseline: s.session.Baseline().Document(),
		Working:  s.session.Working().Document(),
		Modified: s.session.Modified(),
	}
}

type updateSideRequest struct {
	Ranges []threshold.Range `json:"ranges"`
	// Adjust repairs gaps and overlaps before validation.
	Adjust bool `json:"adjust"`
}

func (s *Server) handleUpdateSide(w http.ResponseWriter, r *http.Request) {
	side, err := model.ParseSide(chi.URLParam(r, "side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req updateSideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if len(req.Ranges) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("ranges are required"))
		return
	}

	ranges := req.Ranges
	if req.Adjust {
		ranges = threshold.Adjust(ranges)
	}
	working := s.session.Working()
	next, err := working.WithRanges(chi.URLParam(r, "question"), side, ranges)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !s.session.SetWorkingIf(working, next) {
		writeError(w, http.StatusConflict, errWorkingChanged)
		return
	}
	writeJSON(w, http.StatusOK, s.thresholds())
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.session.Reset()
	writeJSON(w, http.StatusOK, s.thresholds())
}

type matrixResponse struct {
	Deployed *matrix.Matrix `json:"deployed,omitempty"`
	New      *matrix.Matrix `json:"new,omitempty"`
}

func (s *Server) handleMatrix(w http.ResponseWriter, r *http.Request) {
	cfg := s.session.Working()
	question := s.questionOf(r)
	q, err := cfg.Question(question)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	b := matrix.NewBuilder(question, q.Severity(), s.normalizer)
	deployed, err := verdict.NewLabeler(cfg, question, model.SourceDeployed)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	updated, err := verdict.NewLabeler(cfg, question, model.SourceNew)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var resp matrixResponse
	switch r.URL.Query().Get("model") {
	case "":
		resp.Deployed, resp.New, err = b.BuildPair(s.records, deployed.Final, updated.Final)
	case string(model.SourceNew):
		resp.New, err = b.Build(s.records, updated.Final)
	default:
		resp.Deployed, err = b.Build(s.records, deployed.Final)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type recordResult struct {
	verdict.Result
	Actual string `json:"actual,omitempty"`
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	labeler, err := verdict.NewLabeler(s.session.Working(), s.questionOf(r), sourceOf(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	results, unscored, err := labeler.LabelAll(s.records)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]recordResult, len(results))
	for i, res := range results {
		out[i] = recordResult{Result: res, Actual: s.records[i].FinalAnswer}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out, "unscored": unscored})
}

func (s *Server) handleDelta(w http.ResponseWriter, r *http.Request) {
	e := delta.NewEngine(s.questionOf(r), sourceOf(r), s.normalizer)
	res, err := e.Delta(s.records, s.session.Baseline(), s.session.Working())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type optimizeRequest struct {
	Model    string `json:"model"`
	Side     string `json:"side"`
	Question string `json:"question"`
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, errors.New("optimization rate limit exceeded"))
		return
	}
	var req optimizeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
			return
		}
	}
	question := req.Question
	if question == "" {
		question = s.question
	}

	opt := optimize.New(delta.NewEngine(question, model.ParseSource(req.Model), s.normalizer), s.optimizer)
	working := s.session.Working()

	var (
		res *optimize.Result
		err error
	)
	if strings.TrimSpace(req.Side) == "" {
		res, err = opt.OptimizeAll(r.Context(), s.records, working)
	} else {
		side, perr := model.ParseSide(req.Side)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr)
			return
		}
		res, err = opt.OptimizeSide(r.Context(), s.records, working, side)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if s.runs != nil {
		if err := s.runs.SaveRun(r.Context(), store.RunFromResult(res, model.ParseSource(req.Model))); err != nil {
			zap.L().Warn("api: record optimization run", zap.String("run_id", res.RunID), zap.Error(err))
		}
	}
	if res.Improved && !s.session.SetWorkingIf(working, res.Config) {
		zap.L().Warn("api: optimization discarded, working thresholds changed", zap.String("run_id", res.RunID))
		writeError(w, http.StatusConflict, errWorkingChanged)
		return
	}
	zap.L().Info("api: optimization applied",
		zap.String("run_id", res.RunID),
		zap.Bool("improved", res.Improved),
		zap.Float64("accuracy", res.Accuracy),
	)
	writeJSON(w, http.StatusOK, res)
}

type analyticsResponse struct {
	Report    *analytics.Report   `json:"report"`
	Agreement analytics.Agreement `json:"agreement"`
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	a := analytics.New(s.session.Working(), s.questionOf(r), s.normalizer)
	rep, err := a.Analyze(r.Context(), s.records, sourceOf(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	agreement, err := a.Agreement(s.records)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analyticsResponse{Report: rep, Agreement: agreement})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, errors.New("run history is not configured"))
		return
	}
	filter := store.RunFilter{
		Question:     r.URL.Query().Get("question"),
		ImprovedOnly: r.URL.Query().Get("improved") == "true",
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}
	runs, err := s.runs.ListRuns(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, errors.New("run history is not configured"))
		return
	}
	run, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) questionOf(r *http.Request) string {
	if q := r.URL.Query().Get("question"); q != "" {
		return q
	}
	return s.question
}

func sourceOf(r *http.Request) model.Source {
	return model.ParseSource(r.URL.Query().Get("model"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeEngineError maps engine errors to statuses: broken thresholds are the
// caller's to fix, anything else is ours.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case model.IsConfiguration(err):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, model.ErrEmptyDataset):
		writeError(w, http.StatusConflict, err)
	default:
		zap.L().Error("api: request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}
