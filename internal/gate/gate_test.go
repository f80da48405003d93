package gate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/aire/internal/models"
	"github.com/digkill/aire/pkg/logger"
)

func newTestGate(t *testing.T, freeLimit int, code string) (*Gate, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	g, err := New(Config{FreeLimit: freeLimit, AdminUnlockCode: code}, store, logger.Discard())
	require.NoError(t, err)
	return g, store
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{FreeLimit: -1}, NewMemoryStore(), nil)
	assert.Error(t, err)

	_, err = New(Config{FreeLimit: 2}, nil, nil)
	assert.Error(t, err)
}

func TestStatusForUnseenIdentity(t *testing.T) {
	g, store := newTestGate(t, 2, "")
	ctx := context.Background()

	st, err := g.Status(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, st.FreeUsesConsumed)
	assert.Equal(t, 2, st.FreeLimit)
	assert.Equal(t, 2, st.Remaining)
	assert.False(t, st.Unlocked)
	assert.Equal(t, models.UnlockNone, st.UnlockSource)

	_, found, err := store.Get(ctx, "new@example.com")
	require.NoError(t, err)
	assert.False(t, found, "status must not create records")
}

func TestCheckAccessCreatesRecordWithoutCounting(t *testing.T) {
	g, store := newTestGate(t, 2, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := g.CheckAccess(ctx, "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, Allowed, d)
	}

	rec, found, err := store.Get(ctx, "a@example.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 0, rec.FreeUsesConsumed)
	assert.False(t, rec.Unlocked)
}

func TestFreeTierAllowsTwoThenDenies(t *testing.T) {
	g, _ := newTestGate(t, 2, "")
	ctx := context.Background()
	const id = "buyer@example.com"

	for i := 0; i < 2; i++ {
		d, err := g.CheckAccess(ctx, id)
		require.NoError(t, err)
		require.Equal(t, Allowed, d, "run %d", i+1)
		require.NoError(t, g.RecordUsage(ctx, id))
	}

	d, err := g.CheckAccess(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Denied, d)

	st, err := g.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, st.FreeUsesConsumed)
	assert.Equal(t, 0, st.Remaining)
}

func TestRecordUsageWhenDeniedIsInvalidState(t *testing.T) {
	g, _ := newTestGate(t, 1, "")
	ctx := context.Background()
	const id = "x@example.com"

	require.NoError(t, g.RecordUsage(ctx, id))
	err := g.RecordUsage(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidState)

	st, err := g.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, st.FreeUsesConsumed, "counter must not move on invalid state")
}

func TestZeroFreeLimitDeniesFreshIdentity(t *testing.T) {
	g, _ := newTestGate(t, 0, "")
	ctx := context.Background()

	d, err := g.CheckAccess(ctx, "fresh@example.com")
	require.NoError(t, err)
	assert.Equal(t, Denied, d)

	d, err = g.Consume(ctx, "fresh@example.com")
	require.NoError(t, err)
	assert.Equal(t, Denied, d)

	assert.ErrorIs(t, g.RecordUsage(ctx, "fresh@example.com"), ErrInvalidState)
}

func TestUnlockPaymentGivesUnlimitedAccess(t *testing.T) {
	g, _ := newTestGate(t, 2, "")
	ctx := context.Background()
	const id = "payer@example.com"

	require.NoError(t, g.RecordUsage(ctx, id))
	require.NoError(t, g.RecordUsage(ctx, id))
	d, err := g.CheckAccess(ctx, id)
	require.NoError(t, err)
	require.Equal(t, Denied, d)

	changed, err := g.UnlockPayment(ctx, id)
	require.NoError(t, err)
	assert.True(t, changed)

	for i := 0; i < 5; i++ {
		d, err := g.CheckAccess(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, Allowed, d)
		require.NoError(t, g.RecordUsage(ctx, id))
	}

	st, err := g.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, st.FreeUsesConsumed, "unlocked usage must not accumulate")
	assert.True(t, st.Unlocked)
	assert.Equal(t, models.UnlockPayment, st.UnlockSource)
}

func TestUnlockPaymentIsIdempotent(t *testing.T) {
	g, store := newTestGate(t, 2, "")
	ctx := context.Background()
	const id = "twice@example.com"

	_, err := g.UnlockPayment(ctx, id)
	require.NoError(t, err)
	first, _, err := store.Get(ctx, id)
	require.NoError(t, err)

	changed, err := g.UnlockPayment(ctx, id)
	require.NoError(t, err)
	assert.False(t, changed)
	second, _, err := store.Get(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestUnlockPaymentKeepsAdminSource(t *testing.T) {
	g, _ := newTestGate(t, 2, "s3cret")
	ctx := context.Background()

	require.NoError(t, g.UnlockAdmin(ctx, "a@example.com", "s3cret"))
	changed, err := g.UnlockPayment(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, changed)

	st, err := g.Status(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.UnlockAdmin, st.UnlockSource)
}

func TestUnlockAdmin(t *testing.T) {
	g, store := newTestGate(t, 2, "s3cret")
	ctx := context.Background()
	const id = "demo@example.com"

	require.NoError(t, g.RecordUsage(ctx, id))
	before, _, err := store.Get(ctx, id)
	require.NoError(t, err)

	err = g.UnlockAdmin(ctx, id, "wrong")
	assert.ErrorIs(t, err, ErrAdminCodeMismatch)
	after, _, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, after, "mismatch must not mutate the record")

	require.NoError(t, g.UnlockAdmin(ctx, id, "s3cret"))
	st, err := g.Status(ctx, id)
	require.NoError(t, err)
	assert.True(t, st.Unlocked)
	assert.Equal(t, models.UnlockAdmin, st.UnlockSource)
}

func TestUnlockAdminDisabledWithoutCode(t *testing.T) {
	g, store := newTestGate(t, 2, "")
	ctx := context.Background()

	for _, code := range []string{"", "anything", "s3cret"} {
		for _, id := range []string{"a@example.com", "b@example.com"} {
			err := g.UnlockAdmin(ctx, id, code)
			assert.ErrorIs(t, err, ErrAdminUnlockDisabled)
		}
	}
	_, found, err := store.Get(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, g.AdminUnlockEnabled())
}

func TestRevokeClearsUnlock(t *testing.T) {
	g, _ := newTestGate(t, 1, "")
	ctx := context.Background()
	const id = "r@example.com"

	require.NoError(t, g.RecordUsage(ctx, id))
	_, err := g.UnlockPayment(ctx, id)
	require.NoError(t, err)
	require.NoError(t, g.Revoke(ctx, id))

	d, err := g.CheckAccess(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Denied, d)

	st, err := g.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, st.FreeUsesConsumed, "revoke must not reset the counter")
	assert.Equal(t, models.UnlockNone, st.UnlockSource)
}

func TestIdentityNormalization(t *testing.T) {
	g, _ := newTestGate(t, 2, "")
	ctx := context.Background()

	require.NoError(t, g.RecordUsage(ctx, "  Mixed@Example.COM "))
	require.NoError(t, g.RecordUsage(ctx, "mixed@example.com"))

	d, err := g.CheckAccess(ctx, "MIXED@example.com")
	require.NoError(t, err)
	assert.Equal(t, Denied, d)

	_, err = g.CheckAccess(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyIdentity)
	assert.ErrorIs(t, g.RecordUsage(ctx, ""), ErrEmptyIdentity)
	_, err = g.Status(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyIdentity)
}

func TestConcurrentConsumeNeverExceedsLimit(t *testing.T) {
	g, _ := newTestGate(t, 2, "")
	ctx := context.Background()
	const id = "race@example.com"
	const n = 10

	var wg sync.WaitGroup
	results := make(chan Decision, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := g.Consume(ctx, id)
			assert.NoError(t, err)
			results <- d
		}()
	}
	wg.Wait()
	close(results)

	allowed := 0
	for d := range results {
		if d == Allowed {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)

	st, err := g.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, st.FreeUsesConsumed)
}

func TestConcurrentCheckThenRecordNeverExceedsLimit(t *testing.T) {
	g, _ := newTestGate(t, 2, "")
	ctx := context.Background()
	const id = "pair@example.com"
	const n = 10

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		recorded int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := g.CheckAccess(ctx, id)
			if !assert.NoError(t, err) || d != Allowed {
				return
			}
			err = g.RecordUsage(ctx, id)
			if errors.Is(err, ErrInvalidState) {
				return
			}
			if assert.NoError(t, err) {
				mu.Lock()
				recorded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, recorded)
	st, err := g.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, st.FreeUsesConsumed)
}

type failingStore struct{ err error }

func (f failingStore) Get(context.Context, string) (models.UsageRecord, bool, error) {
	return models.UsageRecord{}, false, f.err
}

func (f failingStore) Ensure(context.Context, string) (models.UsageRecord, error) {
	return models.UsageRecord{}, f.err
}

func (f failingStore) Update(context.Context, string, func(*models.UsageRecord) error) (models.UsageRecord, error) {
	return models.UsageRecord{}, f.err
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	boom := errors.New("db down")
	g, err := New(Config{FreeLimit: 2, AdminUnlockCode: "c"}, failingStore{err: boom}, logger.Discard())
	require.NoError(t, err)
	ctx := context.Background()

	d, err := g.CheckAccess(ctx, "a@example.com")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Denied, d)

	assert.ErrorIs(t, g.RecordUsage(ctx, "a@example.com"), boom)
	_, err = g.Consume(ctx, "a@example.com")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, g.UnlockAdmin(ctx, "a@example.com", "c"), boom)
	_, err = g.UnlockPayment(ctx, "a@example.com")
	assert.ErrorIs(t, err, boom)
	_, err = g.Status(ctx, "a@example.com")
	assert.ErrorIs(t, err, boom)
}
