// Package service holds the use cases the HTTP layer calls: analyses, account
// status and unlocks, and operator payment confirmation.
package service

import (
	"context"

	"github.com/digkill/aire/internal/models"
	"github.com/digkill/aire/internal/property"
)

type HistoryStore interface {
	Append(ctx context.Context, a *models.Analysis) error
	ListByIdentity(ctx context.Context, identity string, limit int) ([]models.Analysis, error)
}

type PaymentLog interface {
	Create(ctx context.Context, p *models.Payment) error
	ListByIdentity(ctx context.Context, identity string) ([]models.Payment, error)
}

type PrefillSource interface {
	Prefill(ctx context.Context, address string) (property.Suggestion, error)
}

type ReportUploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

type Notifier interface {
	Unlocked(ctx context.Context, identity string, source models.UnlockSource)
	PaywallHit(ctx context.Context, identity string)
	Revoked(ctx context.Context, identity string)
}

// NopNotifier is used when no operator chat is configured.
type NopNotifier struct{}

func (NopNotifier) Unlocked(context.Context, string, models.UnlockSource) {}
func (NopNotifier) PaywallHit(context.Context, string)                    {}
func (NopNotifier) Revoked(context.Context, string)                       {}
