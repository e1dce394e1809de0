package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"bosgateway/internal/rebalance"
	"bosgateway/internal/report"
	"bosgateway/internal/service"
	"bosgateway/internal/storage"
)

const maxJobsLimit = 200

type jobView struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Status     string          `json:"status"`
	Params     json.RawMessage `json:"params,omitempty"`
	Increase   json.RawMessage `json:"increase,omitempty"`
	Decrease   json.RawMessage `json:"decrease,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *string         `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.opts.Version})
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())

	var req rebalance.Request
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	// 客户端断开不应中断进行中的再平衡，超时由 bos 进程自身约束
	ctx := context.WithoutCancel(r.Context())
	out, err := s.ops.Rebalance(ctx, userID, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resp, err := out.Unwrap()
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAccountingReport(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())

	query := r.URL.Query()
	optional := func(key string) *string {
		if !query.Has(key) {
			return nil
		}
		v := query.Get(key)
		return &v
	}
	req := report.Request{
		Category: optional("category"),
		Currency: optional("currency"),
		Fiat:     optional("fiat"),
		Month:    optional("month"),
		Year:     optional("year"),
	}

	out, err := s.ops.AccountingReport(r.Context(), userID, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	csv, err := out.Unwrap()
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(csv))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJobsLimit)
	}

	jobs, err := s.ops.RecentJobs(r.Context(), userID, limit)
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "job history unavailable")
			return
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("list jobs")
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, jobView{
			ID:         j.ID.String(),
			UserID:     j.UserID,
			Status:     j.Status,
			Params:     j.Params,
			Increase:   j.Increase,
			Decrease:   j.Decrease,
			Result:     j.Result,
			Error:      j.Error,
			StartedAt:  j.StartedAt,
			FinishedAt: j.FinishedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.live == nil {
		writeError(w, http.StatusServiceUnavailable, "live channel unavailable")
		return
	}
	userID, _ := UserFromContext(r.Context())
	s.live.ServeUser(w, r, userID)
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrAccountNotFound) {
		writeError(w, http.StatusNotFound, "node account not found")
		return
	}
	s.logger.Error().Err(err).Msg("service call failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}
