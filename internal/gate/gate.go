// Package gate meters analyses per identity and decides when the paywall applies.
//
// Every operation canonicalises the identity (trimmed, lower-cased) before it
// touches the store, so "A@b.com " and "a@b.com" share one usage record.
package gate

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/aire/internal/metrics"
	"github.com/digkill/aire/internal/models"
)

type Decision string

const (
	Allowed Decision = "allowed"
	Denied  Decision = "denied"
)

var (
	ErrEmptyIdentity       = errors.New("identity is required")
	ErrAdminUnlockDisabled = errors.New("admin unlock is not available")
	ErrAdminCodeMismatch   = errors.New("incorrect unlock code")
	ErrInvalidState        = errors.New("usage recorded for an identity that is not allowed")
)

// errDenied aborts a Consume update without writing.
var errDenied = errors.New("denied")

// Store persists usage records. Update must run fn under mutual exclusion for
// the identity and write the record only when fn returns nil.
type Store interface {
	Get(ctx context.Context, identity string) (models.UsageRecord, bool, error)
	Ensure(ctx context.Context, identity string) (models.UsageRecord, error)
	Update(ctx context.Context, identity string, fn func(rec *models.UsageRecord) error) (models.UsageRecord, error)
}

type Config struct {
	FreeLimit       int
	AdminUnlockCode string
}

type Status struct {
	Identity         string              `json:"identity"`
	FreeUsesConsumed int                 `json:"free_uses_consumed"`
	FreeLimit        int                 `json:"free_limit"`
	Remaining        int                 `json:"remaining"`
	Unlocked         bool                `json:"unlocked"`
	UnlockSource     models.UnlockSource `json:"unlock_source"`
}

type Gate struct {
	cfg   Config
	store Store
	log   *slog.Logger
}

func New(cfg Config, store Store, log *slog.Logger) (*Gate, error) {
	if cfg.FreeLimit < 0 {
		return nil, fmt.Errorf("free limit must be >= 0, got %d", cfg.FreeLimit)
	}
	if store == nil {
		return nil, fmt.Errorf("usage store is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gate{cfg: cfg, store: store, log: log}, nil
}

// NormalizeIdentity is the single identity policy used by every operation.
func NormalizeIdentity(identity string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(identity))
	if id == "" {
		return "", ErrEmptyIdentity
	}
	return id, nil
}

func (g *Gate) FreeLimit() int {
	return g.cfg.FreeLimit
}

func (g *Gate) AdminUnlockEnabled() bool {
	return g.cfg.AdminUnlockCode != ""
}

func (g *Gate) allowed(rec models.UsageRecord) bool {
	return rec.Unlocked || rec.FreeUsesConsumed < g.cfg.FreeLimit
}

// CheckAccess reports whether identity may run another analysis. It creates the
// record on first sight but never changes the counter.
func (g *Gate) CheckAccess(ctx context.Context, identity string) (Decision, error) {
	id, err := NormalizeIdentity(identity)
	if err != nil {
		return Denied, err
	}
	rec, err := g.store.Ensure(ctx, id)
	if err != nil {
		return Denied, fmt.Errorf("load usage: %w", err)
	}
	decision := Denied
	if g.allowed(rec) {
		decision = Allowed
	}
	metrics.GateDecisions.WithLabelValues(string(decision)).Inc()
	return decision, nil
}

// RecordUsage books one completed analysis. The allowance is re-checked inside
// the store's critical section; an identity that is denied at that point gets
// ErrInvalidState and the counter is left untouched.
func (g *Gate) RecordUsage(ctx context.Context, identity string) error {
	id, err := NormalizeIdentity(identity)
	if err != nil {
		return err
	}
	_, err = g.store.Update(ctx, id, func(rec *models.UsageRecord) error {
		if !g.allowed(*rec) {
			return ErrInvalidState
		}
		if !rec.Unlocked {
			rec.FreeUsesConsumed++
		}
		return nil
	})
	if errors.Is(err, ErrInvalidState) {
		metrics.GateInvalidState.Inc()
		g.log.Warn("usage recorded without allowance", "identity", id)
		return ErrInvalidState
	}
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Consume is the atomic check-and-record: when allowed, the usage unit is booked
// in the same critical section as the decision.
func (g *Gate) Consume(ctx context.Context, identity string) (Decision, error) {
	id, err := NormalizeIdentity(identity)
	if err != nil {
		return Denied, err
	}
	_, err = g.store.Update(ctx, id, func(rec *models.UsageRecord) error {
		if !g.allowed(*rec) {
			return errDenied
		}
		if !rec.Unlocked {
			rec.FreeUsesConsumed++
		}
		return nil
	})
	if errors.Is(err, errDenied) {
		metrics.GateDecisions.WithLabelValues(string(Denied)).Inc()
		return Denied, nil
	}
	if err != nil {
		return Denied, fmt.Errorf("consume usage: %w", err)
	}
	metrics.GateDecisions.WithLabelValues(string(Allowed)).Inc()
	return Allowed, nil
}

// UnlockAdmin grants unlimited access when code matches the configured admin code.
func (g *Gate) UnlockAdmin(ctx context.Context, identity, code string) error {
	id, err := NormalizeIdentity(identity)
	if err != nil {
		return err
	}
	if g.cfg.AdminUnlockCode == "" {
		return ErrAdminUnlockDisabled
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(g.cfg.AdminUnlockCode)) != 1 {
		return ErrAdminCodeMismatch
	}
	_, err = g.store.Update(ctx, id, func(rec *models.UsageRecord) error {
		rec.Unlocked = true
		rec.UnlockSource = models.UnlockAdmin
		return nil
	})
	if err != nil {
		return fmt.Errorf("admin unlock: %w", err)
	}
	metrics.Unlocks.WithLabelValues(string(models.UnlockAdmin)).Inc()
	g.log.Info("identity unlocked", "identity", id, "source", models.UnlockAdmin)
	return nil
}

// UnlockPayment marks identity as paid. The caller must have confirmed the
// payment; an identity that is already unlocked keeps its original source.
func (g *Gate) UnlockPayment(ctx context.Context, identity string) (bool, error) {
	id, err := NormalizeIdentity(identity)
	if err != nil {
		return false, err
	}
	changed := false
	_, err = g.store.Update(ctx, id, func(rec *models.UsageRecord) error {
		if rec.Unlocked {
			return nil
		}
		rec.Unlocked = true
		rec.UnlockSource = models.UnlockPayment
		changed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("payment unlock: %w", err)
	}
	if changed {
		metrics.Unlocks.WithLabelValues(string(models.UnlockPayment)).Inc()
		g.log.Info("identity unlocked", "identity", id, "source", models.UnlockPayment)
	}
	return changed, nil
}

// Revoke clears an unlock. It is the only operation that sets Unlocked back to
// false and is reserved for operators. The free-use counter is kept.
func (g *Gate) Revoke(ctx context.Context, identity string) error {
	id, err := NormalizeIdentity(identity)
	if err != nil {
		return err
	}
	_, err = g.store.Update(ctx, id, func(rec *models.UsageRecord) error {
		rec.Unlocked = false
		rec.UnlockSource = models.UnlockNone
		return nil
	})
	if err != nil {
		return fmt.Errorf("revoke unlock: %w", err)
	}
	g.log.Info("identity unlock revoked", "identity", id)
	return nil
}

// Status is a read-only view for display; unseen identities report zero usage.
func (g *Gate) Status(ctx context.Context, identity string) (Status, error) {
	id, err := NormalizeIdentity(identity)
	if err != nil {
		return Status{}, err
	}
	rec, found, err := g.store.Get(ctx, id)
	if err != nil {
		return Status{}, fmt.Errorf("load usage: %w", err)
	}
	if !found {
		rec = models.UsageRecord{Identity: id, UnlockSource: models.UnlockNone}
	}
	remaining := g.cfg.FreeLimit - rec.FreeUsesConsumed
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Identity:         id,
		FreeUsesConsumed: rec.FreeUsesConsumed,
		FreeLimit:        g.cfg.FreeLimit,
		Remaining:        remaining,
		Unlocked:         rec.Unlocked,
		UnlockSource:     rec.UnlockSource,
	}, nil
}
