// Package api exposes deal validation over HTTP in the job-runner callback
// shape: a job id and a deal id in, the summary echoed back with the job id.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/colorfulnotion/dealproof/dealerrors"
	"github.com/colorfulnotion/dealproof/log"
	"github.com/colorfulnotion/dealproof/telemetry"
	"github.com/colorfulnotion/dealproof/types"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DealValidator is the part of the validator the server needs.
type DealValidator interface {
	ValidateDeal(ctx context.Context, dealID types.DealID) (*types.DealProofSummary, error)
}

type Config struct {
	Addr string
	// RequestTimeout bounds a single validation, chain calls included.
	RequestTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		RequestTimeout: 2 * time.Minute,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   3 * time.Minute,
	}
}

type ValidateRequest struct {
	JobRunID string `json:"job_run_id"`
	Data     struct {
		DealID *types.DealID `json:"deal_id"`
	} `json:"data"`
}

type ValidateResponseData struct {
	DealID       types.DealID `json:"deal_id"`
	SuccessCount uint64       `json:"success_count"`
	NumWindows   uint64       `json:"num_windows"`
}

type ValidateResponse struct {
	JobRunID string               `json:"job_run_id"`
	Data     ValidateResponseData `json:"data"`
	Status   types.Status         `json:"status"`
	Result   string               `json:"result"`
}

func newValidateResponse(jobRunID string, s *types.DealProofSummary) ValidateResponse {
	return ValidateResponse{
		JobRunID: jobRunID,
		Data: ValidateResponseData{
			DealID:       s.DealID,
			SuccessCount: s.SuccessCount,
			NumWindows:   s.NumWindows,
		},
		Status: s.Status,
		Result: s.Result,
	}
}

type Server struct {
	validator DealValidator
	cfg       Config
	router    *mux.Router
	http      *http.Server
	tracer    trace.Tracer
}

func NewServer(v DealValidator, cfg Config) *Server {
	s := &Server{validator: v, cfg: cfg, tracer: otel.Tracer("dealproof/api")}
	r := mux.NewRouter()
	r.HandleFunc("/validate", s.handleValidate).Methods(http.MethodPost)
	r.HandleFunc("/val", s.handleValidate).Methods(http.MethodPost)
	r.HandleFunc("/validate/{deal_id}", s.handleValidateByPath).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.http = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	log.Info(log.APIMonitoring, "validation server started", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info(log.APIMonitoring, "validation server stopping")
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn(log.APIMonitoring, "bad request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Data.DealID == nil {
		http.Error(w, "missing data.deal_id", http.StatusBadRequest)
		return
	}
	s.validate(r.Context(), w, req.JobRunID, *req.Data.DealID)
}

func (s *Server) handleValidateByPath(w http.ResponseWriter, r *http.Request) {
	dealID, err := types.ParseDealID(mux.Vars(r)["deal_id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.validate(r.Context(), w, r.URL.Query().Get("job_run_id"), dealID)
}

func (s *Server) validate(ctx context.Context, w http.ResponseWriter, jobRunID string, dealID types.DealID) {
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	ctx, span := s.tracer.Start(ctx, "validate", trace.WithAttributes(
		attribute.String("job_run_id", jobRunID),
		attribute.Int64("deal_id", int64(dealID)),
	))
	defer span.End()

	start := time.Now()
	summary, err := s.validator.ValidateDeal(ctx, dealID)
	if err != nil {
		log.Error(log.APIMonitoring, "validation failed", "job", jobRunID, "deal", dealID, "span", telemetry.SpanID(ctx),
			"code", dealerrors.GetErrorCode(err), "err", err)
		summary = types.NewFailureSummary(dealID, err.Error())
	} else {
		log.Info(log.APIMonitoring, "validation done", "job", jobRunID, "deal", dealID, "span", telemetry.SpanID(ctx),
			"result", summary.Result, "success", summary.SuccessCount, "windows", summary.NumWindows,
			"elapsed", time.Since(start))
	}
	writeJSON(w, http.StatusOK, newValidateResponse(jobRunID, summary))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn(log.APIMonitoring, "write response", "err", err)
	}
}
