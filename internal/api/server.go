// Package api exposes the analysis, paywall and operator endpoints over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/digkill/aire/internal/gate"
	"github.com/digkill/aire/internal/property"
	"github.com/digkill/aire/internal/report"
	"github.com/digkill/aire/internal/service"
	"github.com/digkill/aire/internal/underwriting"
)

const maxBodyBytes = 1 << 20

type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	analysis *service.AnalysisService
	accounts *service.AccountService
	payments *service.PaymentService
	router   *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, analysis *service.AnalysisService, accounts *service.AccountService, payments *service.PaymentService) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		analysis: analysis,
		accounts: accounts,
		payments: payments,
		router:   r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/listing/address", s.handleListingAddress)
		r.Post("/prefill", s.handlePrefill)
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/history", s.handleHistory)
		r.Post("/unlock", s.handleUnlock)
	})
	if username == "" || password == "" {
		log.Warn("ADMIN_PASSWORD not set, operator endpoints disabled")
		return s
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.basicAuthMiddleware())
		r.Post("/payments/confirm", s.handleConfirmPayment)
		r.Post("/revoke", s.handleRevoke)
		r.Get("/usage", s.handleUsage)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	gate.Status
	PaymentLink        string `json:"payment_link"`
	PaymentsEnabled    bool   `json:"payments_enabled"`
	AdminUnlockEnabled bool   `json:"admin_unlock_enabled"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.accounts.Status(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	link, ok := s.payments.PaymentLink()
	s.writeJSON(w, http.StatusOK, statusResponse{
		Status:             st,
		PaymentLink:        link,
		PaymentsEnabled:    ok,
		AdminUnlockEnabled: s.accounts.AdminUnlockEnabled(),
	})
}

type listingRequest struct {
	ListingURL string `json:"listing_url"`
}

func (s *Server) handleListingAddress(w http.ResponseWriter, r *http.Request) {
	var req listingRequest
	if !s.decode(w, r, &req) {
		return
	}
	addr, ok := s.analysis.AddressFromListing(req.ListingURL)
	s.writeJSON(w, http.StatusOK, map[string]any{"address": addr, "found": ok})
}

type prefillRequest struct {
	Address string `json:"address"`
	Demo    bool   `json:"demo"`
}

func (s *Server) handlePrefill(w http.ResponseWriter, r *http.Request) {
	var req prefillRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Demo {
		s.writeJSON(w, http.StatusOK, s.analysis.Demo())
		return
	}
	suggestion, err := s.analysis.Prefill(r.Context(), req.Address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, suggestion)
}

type analyzeRequest struct {
	Email      string `json:"email"`
	ListingURL string `json:"listing_url"`
	RateEnv    string `json:"rate_env"`
	underwriting.PropertyData
}

type analyzeResponse struct {
	ID          string              `json:"id"`
	Identity    string              `json:"identity"`
	Address     string              `json:"address"`
	Result      underwriting.Result `json:"result"`
	ReportURL   string              `json:"report_url,omitempty"`
	GeneratedAt time.Time           `json:"generated_at"`
	Status      *gate.Status        `json:"status,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	out, err := s.analysis.Analyze(ctx, service.AnalyzeRequest{
		Identity:   req.Email,
		ListingURL: req.ListingURL,
		RateEnv:    req.RateEnv,
		Property:   req.PropertyData,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "pdf") {
		w.Header().Set("Content-Type", report.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.FileName(out.GeneratedAt)))
		w.Header().Set("Content-Length", strconv.Itoa(len(out.PDF)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out.PDF)
		return
	}

	resp := analyzeResponse{
		ID:          out.ID,
		Identity:    out.Identity,
		Address:     out.Address,
		Result:      out.Result,
		ReportURL:   out.ReportURL,
		GeneratedAt: out.GeneratedAt,
	}
	if st, err := s.accounts.Status(ctx, out.Identity); err == nil {
		resp.Status = &st
	} else {
		s.log.Warn("status after analysis", "identity", out.Identity, "err", err)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	rows, err := s.analysis.History(r.Context(), r.URL.Query().Get("email"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"analyses": rows})
}

type unlockRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !s.decode(w, r, &req) {
		return
	}
	st, err := s.accounts.UnlockAdmin(r.Context(), req.Email, req.Code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

type confirmPaymentRequest struct {
	Email     string `json:"email"`
	Reference string `json:"reference"`
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if !s.decode(w, r, &req) {
		return
	}
	conf, err := s.payments.ConfirmPayment(r.Context(), req.Email, req.Reference)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conf)
}

type revokeRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !s.decode(w, r, &req) {
		return
	}
	st, err := s.accounts.Revoke(r.Context(), req.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.accounts.Usage(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, usage)
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || !equal(user, s.username) || !equal(pass, s.password) {
				w.Header().Set("WWW-Authenticate", `Basic realm="aire"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type errorBody struct {
	Error       string `json:"error"`
	PaymentLink string `json:"payment_link,omitempty"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gate.ErrEmptyIdentity),
		errors.Is(err, underwriting.ErrInvalidInput),
		errors.Is(err, property.ErrEmptyAddress),
		errors.Is(err, service.ErrReferenceRequired):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, gate.ErrAdminUnlockDisabled):
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, gate.ErrAdminCodeMismatch):
		s.writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
	case errors.Is(err, service.ErrPaymentRequired):
		link, _ := s.payments.PaymentLink()
		s.writeJSON(w, http.StatusPaymentRequired, errorBody{Error: err.Error(), PaymentLink: link})
	case errors.Is(err, gate.ErrInvalidState):
		s.writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		s.internalError(w, err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("http handler error", "err", err)
	s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}
