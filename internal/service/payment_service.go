package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/aire/internal/gate"
	"github.com/digkill/aire/internal/models"
)

const paymentsNotConfigured = "payments not configured"

var ErrReferenceRequired = errors.New("payment reference is required")

type PaymentService struct {
	log      *slog.Logger
	gate     *gate.Gate
	payments PaymentLog
	notifier Notifier
	link     string
}

func NewPaymentService(log *slog.Logger, g *gate.Gate, payments PaymentLog, notifier Notifier, paymentLinkURL string) *PaymentService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &PaymentService{
		log:      log,
		gate:     g,
		payments: payments,
		notifier: notifier,
		link:     strings.TrimSpace(paymentLinkURL),
	}
}

// PaymentLink returns the checkout URL shown at the paywall. ok is false when
// no link is configured; the returned text then explains that.
func (s *PaymentService) PaymentLink() (string, bool) {
	if s.link == "" {
		return paymentsNotConfigured, false
	}
	return s.link, true
}

type PaymentConfirmation struct {
	Status  gate.Status    `json:"status"`
	Changed bool           `json:"changed"`
	Payment models.Payment `json:"payment"`
}

// ConfirmPayment is called by an operator after verifying a payment out of
// band. The unlock is idempotent; every call writes an audit row.
func (s *PaymentService) ConfirmPayment(ctx context.Context, identity, reference string) (*PaymentConfirmation, error) {
	id, err := gate.NormalizeIdentity(identity)
	if err != nil {
		return nil, err
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ErrReferenceRequired
	}

	changed, err := s.gate.UnlockPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	payment := models.Payment{
		Identity:  id,
		Provider:  models.PaymentProviderStripeLink,
		Reference: reference,
		Status:    models.PaymentStatusPaid,
	}
	if err := s.payments.Create(ctx, &payment); err != nil {
		s.log.Error("payment audit write failed", "identity", id, "reference", reference, "err", err)
		return nil, fmt.Errorf("record payment: %w", err)
	}

	if changed {
		s.notifier.Unlocked(ctx, id, models.UnlockPayment)
	}

	st, err := s.gate.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	return &PaymentConfirmation{Status: st, Changed: changed, Payment: payment}, nil
}
