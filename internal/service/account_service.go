package service

import (
	"context"
	"fmt"

	"github.com/digkill/aire/internal/gate"
	"github.com/digkill/aire/internal/models"
)

type AccountService struct {
	gate     *gate.Gate
	payments PaymentLog
	notifier Notifier
}

func NewAccountService(g *gate.Gate, payments PaymentLog, notifier Notifier) *AccountService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &AccountService{gate: g, payments: payments, notifier: notifier}
}

func (s *AccountService) AdminUnlockEnabled() bool {
	return s.gate.AdminUnlockEnabled()
}

func (s *AccountService) Status(ctx context.Context, identity string) (gate.Status, error) {
	return s.gate.Status(ctx, identity)
}

func (s *AccountService) UnlockAdmin(ctx context.Context, identity, code string) (gate.Status, error) {
	if err := s.gate.UnlockAdmin(ctx, identity, code); err != nil {
		return gate.Status{}, err
	}
	st, err := s.gate.Status(ctx, identity)
	if err != nil {
		return gate.Status{}, err
	}
	s.notifier.Unlocked(ctx, st.Identity, models.UnlockAdmin)
	return st, nil
}

func (s *AccountService) Revoke(ctx context.Context, identity string) (gate.Status, error) {
	if err := s.gate.Revoke(ctx, identity); err != nil {
		return gate.Status{}, err
	}
	st, err := s.gate.Status(ctx, identity)
	if err != nil {
		return gate.Status{}, err
	}
	s.notifier.Revoked(ctx, st.Identity)
	return st, nil
}

type Usage struct {
	gate.Status
	Payments []models.Payment `json:"payments"`
}

// Usage is the operator view of one identity: gate state plus payment audit.
func (s *AccountService) Usage(ctx context.Context, identity string) (Usage, error) {
	st, err := s.gate.Status(ctx, identity)
	if err != nil {
		return Usage{}, err
	}
	payments, err := s.payments.ListByIdentity(ctx, st.Identity)
	if err != nil {
		return Usage{}, fmt.Errorf("list payments: %w", err)
	}
	return Usage{Status: st, Payments: payments}, nil
}
