package server

import (
	"encoding/json"
	"net/http"

	"github.com/imedina/evidens/internal/model"
)

const maxBodyBytes = 4 << 20

// MaxResults is a pointer so an explicit 0 (invalid) is told apart
// from an absent field (defaulted).
type queryRequest struct {
	Question       string `json:"question"`
	UseAI          bool   `json:"useAI"`
	MaxResults     *int   `json:"maxResults"`
	SearchStrategy string `json:"searchStrategy"`
	RequestID      string `json:"requestId"`
}

type queryResponse struct {
	Success              bool                   `json:"success"`
	RequestID            string                 `json:"requestId"`
	Articles             []model.Article        `json:"articles"`
	SearchStrategy       string                 `json:"searchStrategy"`
	FullResponseStrategy string                 `json:"fullResponseStrategy"`
	Metrics              *model.StrategyMetrics `json:"metrics,omitempty"`
	ProcessingTime       int64                  `json:"processingTime"` // milliseconds
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = s.hub.NewRequestID()
	}

	question := model.NewQuestion(req.Question, req.UseAI, 0)
	if req.MaxResults != nil {
		question.MaxResults = *req.MaxResults
	}
	result, err := s.coord.Run(r.Context(), requestID, question, req.SearchStrategy)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Success:              true,
		RequestID:            requestID,
		Articles:             result.Articles,
		SearchStrategy:       result.Strategy.Strategy,
		FullResponseStrategy: result.Strategy.FullResponse,
		Metrics:              result.Strategy.Metrics,
		ProcessingTime:       result.ProcessingTime.Milliseconds(),
	})
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	pmid := r.PathValue("pmid")

	article, ok := s.coord.Article(pmid)
	if !ok && s.fetcher != nil {
		fetched, err := s.fetcher.FetchOne(r.Context(), pmid)
		if err == nil && fetched != nil {
			article, ok = fetched, true
		}
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorEnvelope{Error: "unknown pmid: " + pmid, Code: "NotFound"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": article})
}

type strategyRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	var req strategyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	question := model.NewQuestion(req.Prompt, true, model.DefaultMaxResults)
	if err := question.Validate(); err != nil {
		writeError(w, err)
		return
	}

	strategy, err := s.llm.Strategy(r.Context(), question)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "content": strategy})
}

type analyzeRequest struct {
	Article          model.Article `json:"article"`
	ClinicalQuestion string        `json:"clinicalQuestion"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	analysis, err := s.llm.AnalyzeOne(r.Context(), req.Article, req.ClinicalQuestion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "analysis": analysis})
}

type batchRequest struct {
	Articles         []model.Article `json:"articles"`
	ClinicalQuestion string          `json:"clinicalQuestion"`
}

type batchResult struct {
	model.Article
	Analyzed bool `json:"analyzed"`
}

func (s *Server) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	analyses, err := s.llm.AnalyzeBatch(r.Context(), req.Articles, req.ClinicalQuestion)
	if err != nil {
		writeError(w, err)
		return
	}

	results := make([]batchResult, len(req.Articles))
	for i, a := range req.Articles {
		a.SecondaryAnalysis = analyses[i]
		a.FullyAnalyzed = true
		results[i] = batchResult{Article: a, Analyzed: true}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

// handleBatchProbe answers the capability check clients run before
// choosing batch mode.
func (s *Server) handleBatchProbe(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type synthesisRequest struct {
	ClinicalQuestion string          `json:"clinicalQuestion"`
	Articles         []model.Article `json:"articles"`
	RequestID        string          `json:"requestId"`
}

func (s *Server) handleSynthesis(w http.ResponseWriter, r *http.Request) {
	var req synthesisRequest
	if !decodeBody(w, r, &req) {
		return
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = s.hub.NewRequestID()
	}

	result, err := s.coord.Synthesize(r.Context(), requestID, req.ClinicalQuestion, req.Articles)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"synthesis":      result.HTML,
		"evidenceRating": result.EvidenceRating,
		"referenced":     result.Referenced,
	})
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "invalid request body: " + err.Error(), Code: "BadRequest"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses. Cancelled
// requests get no body; the client is gone.
func writeError(w http.ResponseWriter, err error) {
	kind := model.ErrorKind(err)
	var status int
	switch kind {
	case "EmptyQuestion", "InvalidMaxResults":
		status = http.StatusBadRequest
	case "UpstreamRateLimited":
		status = http.StatusTooManyRequests
	case "Timeout":
		status = http.StatusGatewayTimeout
	case "LLMGatewayError", "LiteratureGatewayError":
		// Upstream failures are this API failing, never the client,
		// whatever status the upstream chose.
		status = http.StatusBadGateway
	case "cancelled":
		return
	default:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorEnvelope{Error: err.Error(), Code: kind})
}
