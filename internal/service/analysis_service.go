package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/aire/internal/gate"
	"github.com/digkill/aire/internal/listing"
	"github.com/digkill/aire/internal/metrics"
	"github.com/digkill/aire/internal/models"
	"github.com/digkill/aire/internal/property"
	"github.com/digkill/aire/internal/report"
	"github.com/digkill/aire/internal/underwriting"
)

var ErrPaymentRequired = errors.New("free analyses used up, payment required")

type AnalysisService struct {
	log          *slog.Logger
	gate         *gate.Gate
	history      HistoryStore
	prefill      PrefillSource
	uploader     ReportUploader
	notifier     Notifier
	historyLimit int
	now          func() time.Time
}

// NewAnalysisService wires the analysis use case. uploader may be nil when
// report archiving is off; notifier may be nil when no operator chat exists.
func NewAnalysisService(log *slog.Logger, g *gate.Gate, history HistoryStore, prefill PrefillSource, uploader ReportUploader, notifier Notifier, historyLimit int) *AnalysisService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &AnalysisService{
		log:          log,
		gate:         g,
		history:      history,
		prefill:      prefill,
		uploader:     uploader,
		notifier:     notifier,
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

type AnalyzeRequest struct {
	Identity   string
	ListingURL string
	RateEnv    string
	Property   underwriting.PropertyData
}

type AnalysisOutcome struct {
	ID          string
	Identity    string
	Address     string
	Result      underwriting.Result
	ReportURL   string
	PDF         []byte
	GeneratedAt time.Time
}

// Analyze checks the paywall, underwrites the deal, renders the memo and books
// one usage unit. Usage is booked only once the memo rendered, and before the
// report is archived.
func (s *AnalysisService) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalysisOutcome, error) {
	id, err := gate.NormalizeIdentity(req.Identity)
	if err != nil {
		return nil, err
	}

	p := req.Property
	p.Address = strings.TrimSpace(p.Address)
	if p.Address == "" && req.ListingURL != "" {
		if guess, ok := listing.AddressFromURL(req.ListingURL); ok {
			p.Address = guess
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	decision, err := s.gate.CheckAccess(ctx, id)
	if err != nil {
		return nil, err
	}
	if decision == gate.Denied {
		s.notifier.PaywallHit(ctx, id)
		return nil, ErrPaymentRequired
	}

	res, err := underwriting.Evaluate(p, underwriting.ParseRateEnv(req.RateEnv))
	if err != nil {
		return nil, err
	}

	generatedAt := s.now().UTC()
	pdf, err := report.RenderBytes(report.Memo{Property: p, Result: res, GeneratedAt: generatedAt})
	if err != nil {
		return nil, err
	}

	// Consume re-checks and books the unit under the identity's lock, so
	// overlapping requests past the pre-check lose here and never upload.
	decision, err = s.gate.Consume(ctx, id)
	if err != nil {
		return nil, err
	}
	if decision == gate.Denied {
		s.notifier.PaywallHit(ctx, id)
		return nil, ErrPaymentRequired
	}

	var reportURL string
	if s.uploader != nil {
		reportURL, err = s.uploader.Upload(ctx, pdf, report.ContentType)
		if err != nil {
			s.log.Error("report upload failed", "identity", id, "err", err)
			reportURL = ""
		}
	}

	outcome := &AnalysisOutcome{
		ID:          uuid.NewString(),
		Identity:    id,
		Address:     p.Address,
		Result:      res,
		ReportURL:   reportURL,
		PDF:         pdf,
		GeneratedAt: generatedAt,
	}
	s.appendHistory(ctx, outcome, p)
	metrics.Analyses.WithLabelValues(res.Grade).Inc()
	return outcome, nil
}

func (s *AnalysisService) appendHistory(ctx context.Context, o *AnalysisOutcome, p underwriting.PropertyData) {
	inputs, err := json.Marshal(p)
	if err != nil {
		s.log.Error("encode analysis inputs", "err", err)
	}
	row := &models.Analysis{
		ID:         o.ID,
		Identity:   o.Identity,
		Address:    o.Address,
		RateEnv:    o.Result.RateEnv,
		Score:      o.Result.Score,
		Grade:      o.Result.Grade,
		Verdict:    o.Result.Verdict,
		StressDSCR: o.Result.StressDSCR,
		KillSwitch: o.Result.KillSwitch,
		ReportURL:  o.ReportURL,
		InputsJSON: string(inputs),
		CreatedAt:  o.GeneratedAt,
	}
	if err := s.history.Append(ctx, row); err != nil {
		s.log.Error("failed to log analysis", "identity", o.Identity, "err", err)
	}
}

// History lists past analyses newest first. limit is clamped to the
// configured maximum.
func (s *AnalysisService) History(ctx context.Context, identity string, limit int) ([]models.Analysis, error) {
	id, err := gate.NormalizeIdentity(identity)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	rows, err := s.history.ListByIdentity(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if rows == nil {
		rows = []models.Analysis{}
	}
	return rows, nil
}

func (s *AnalysisService) Prefill(ctx context.Context, address string) (property.Suggestion, error) {
	return s.prefill.Prefill(ctx, address)
}

func (s *AnalysisService) Demo() property.Suggestion {
	return property.DemoSuggestion()
}

func (s *AnalysisService) AddressFromListing(listingURL string) (string, bool) {
	return listing.AddressFromURL(listingURL)
}
