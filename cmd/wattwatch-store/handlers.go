// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wattwatch/wattwatch/lib/netutil"
	"github.com/wattwatch/wattwatch/lib/reading"
	"github.com/wattwatch/wattwatch/lib/readingstore"
	"github.com/wattwatch/wattwatch/lib/schema/electricity"
)

// backend is the storage the handlers need. *readingstore.Store
// implements it.
type backend interface {
	Ping(ctx context.Context) error
	InsertReading(ctx context.Context, reading electricity.Reading) (int64, error)
	InsertVerdict(ctx context.Context, verdict electricity.AnomalyVerdict) error
	Get(ctx context.Context, id int64) (readingstore.Record, error)
	Total(ctx context.Context, metric string) (float64, error)
	PeriodTotals(ctx context.Context, metric, period string) ([]readingstore.PeriodTotal, error)
}

// envelope is the response shape of every endpoint.
type envelope struct {
	Code    int          `json:"code"`
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Data    any          `json:"data,omitempty"`
	ID      *int64       `json:"id,omitempty"`
	Errors  []fieldError `json:"errors,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type handlers struct {
	store  backend
	logger *slog.Logger
}

func newRouter(store backend, logger *slog.Logger) http.Handler {
	h := &handlers{store: store, logger: logger}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", h.health)
	router.Route("/api/electricity", func(r chi.Router) {
		r.Post("/add", h.addReading)
		r.Get("/get/{id}", h.getReading)
		r.Get("/total/{metric}/get", h.total)
		r.Get("/total/{metric}/{period}", h.periodTotals)
	})
	router.Post("/api/electricity-anomaly/add", h.addVerdict)
	return router
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, envelope{Message: "database unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "ok"})
}

func (h *handlers) addReading(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var attribution struct {
		DeviceID *string `json:"device_id"`
	}
	if err := json.Unmarshal(body, &attribution); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Message: "request body must be a JSON object"})
		return
	}
	if attribution.DeviceID == nil || *attribution.DeviceID == "" {
		writeValidation(w, fieldError{Field: "device_id", Message: "device_id is required"})
		return
	}

	decoded, err := reading.Decode(body, *attribution.DeviceID)
	if err != nil {
		var fieldErr *reading.FieldError
		if errors.As(err, &fieldErr) {
			writeValidation(w, fieldError{Field: fieldErr.Field, Message: fieldErr.Field + " " + fieldErr.Reason})
			return
		}
		writeJSON(w, http.StatusBadRequest, envelope{Message: err.Error()})
		return
	}

	id, err := h.store.InsertReading(r.Context(), decoded)
	switch {
	case errors.Is(err, readingstore.ErrDuplicate):
		writeJSON(w, http.StatusConflict, envelope{Message: "reading with identical values already stored"})
		return
	case err != nil:
		h.internalError(w, "storing reading", err)
		return
	}

	h.logger.Debug("reading stored", "id", id, "device_id", decoded.DeviceID)
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "reading stored",
		Data:    decoded,
		ID:      &id,
	})
}

func (h *handlers) addVerdict(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var request struct {
		DataID json.Number `json:"data_id"`
		ModelA *bool       `json:"if_labels_anomaly"`
		ModelB *bool       `json:"rf_labels_anomaly"`
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&request); err != nil {
		writeValidation(w, fieldError{Field: "body", Message: err.Error()})
		return
	}

	var problems []fieldError
	readingID, err := strconv.ParseInt(request.DataID.String(), 10, 64)
	if err != nil || readingID < 0 {
		problems = append(problems, fieldError{Field: "data_id", Message: "data_id must be a non-negative integer"})
	}
	if request.ModelA == nil {
		problems = append(problems, fieldError{Field: "if_labels_anomaly", Message: "if_labels_anomaly must be a boolean"})
	}
	if request.ModelB == nil {
		problems = append(problems, fieldError{Field: "rf_labels_anomaly", Message: "rf_labels_anomaly must be a boolean"})
	}
	if len(problems) > 0 {
		writeValidation(w, problems...)
		return
	}

	verdict := electricity.AnomalyVerdict{
		ReadingID:       readingID,
		FlaggedByModelA: *request.ModelA,
		FlaggedByModelB: *request.ModelB,
	}
	err = h.store.InsertVerdict(r.Context(), verdict)
	switch {
	case errors.Is(err, readingstore.ErrNotFound):
		writeJSON(w, http.StatusNotFound, envelope{Message: fmt.Sprintf("reading %d does not exist", readingID)})
		return
	case errors.Is(err, readingstore.ErrVerdictExists):
		writeJSON(w, http.StatusConflict, envelope{Message: fmt.Sprintf("reading %d already has a verdict", readingID)})
		return
	case err != nil:
		h.internalError(w, "storing verdict", err)
		return
	}

	h.logger.Info("anomaly verdict stored",
		"reading_id", readingID,
		"flagged_by_model_a", verdict.FlaggedByModelA,
		"flagged_by_model_b", verdict.FlaggedByModelB,
	)
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "verdict stored", Data: verdict})
}

func (h *handlers) getReading(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 0 {
		writeJSON(w, http.StatusBadRequest, envelope{Message: "id must be a non-negative integer"})
		return
	}
	record, err := h.store.Get(r.Context(), id)
	switch {
	case errors.Is(err, readingstore.ErrNotFound):
		writeJSON(w, http.StatusNotFound, envelope{Message: fmt.Sprintf("reading %d not found", id)})
		return
	case err != nil:
		h.internalError(w, "reading record", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "ok", Data: record})
}

func (h *handlers) total(w http.ResponseWriter, r *http.Request) {
	metric := chi.URLParam(r, "metric")
	total, err := h.store.Total(r.Context(), metric)
	if errors.Is(err, readingstore.ErrUnknownMetric) {
		writeJSON(w, http.StatusNotFound, envelope{Message: fmt.Sprintf("unknown metric %q", metric)})
		return
	}
	if err != nil {
		h.internalError(w, "summing "+metric, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "ok",
		Data:    map[string]any{"metric": metric, "total": total},
	})
}

func (h *handlers) periodTotals(w http.ResponseWriter, r *http.Request) {
	metric := chi.URLParam(r, "metric")
	period := chi.URLParam(r, "period")
	totals, err := h.store.PeriodTotals(r.Context(), metric, period)
	switch {
	case errors.Is(err, readingstore.ErrUnknownMetric):
		writeJSON(w, http.StatusNotFound, envelope{Message: fmt.Sprintf("unknown metric %q", metric)})
		return
	case errors.Is(err, readingstore.ErrUnknownPeriod):
		writeJSON(w, http.StatusNotFound, envelope{Message: fmt.Sprintf("unknown period %q (want day or month)", period)})
		return
	case err != nil:
		h.internalError(w, "summing "+metric+" by "+period, err)
		return
	}
	if totals == nil {
		totals = []readingstore.PeriodTotal{}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "ok", Data: totals})
}

func (h *handlers) internalError(w http.ResponseWriter, operation string, err error) {
	h.logger.Error(operation+" failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, envelope{Message: operation + " failed"})
}

// readBody reads a bounded request body. On failure it has already
// written the response.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, netutil.MaxRequestSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, envelope{Message: "request body too large"})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, envelope{Message: "reading request body failed"})
		return nil, false
	}
	return body, true
}

func writeValidation(w http.ResponseWriter, problems ...fieldError) {
	writeJSON(w, http.StatusUnprocessableEntity, envelope{
		Message: "validation failed",
		Errors:  problems,
	})
}

// writeJSON fills in the envelope code from status and writes it.
func writeJSON(w http.ResponseWriter, status int, body envelope) {
	body.Code = status
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
