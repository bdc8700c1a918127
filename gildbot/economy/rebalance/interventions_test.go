package rebalance

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gildhall/gildbot/gildbot/database/models"
)

// fakeAccountRepo is an in-memory AccountRepository. Balance writes are
// guarded because interventions write concurrently.
type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*models.Account // keyed by guildID/discordID
	failIDs  map[string]bool
	scans    int
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{
		accounts: make(map[string]*models.Account),
		failIDs:  make(map[string]bool),
	}
}

func (f *fakeAccountRepo) key(discordID, guildID string) string {
	return guildID + "/" + discordID
}

func (f *fakeAccountRepo) add(discordID, guildID string, wallet, bank int64) {
	f.accounts[f.key(discordID, guildID)] = &models.Account{
		DiscordID:     discordID,
		GuildID:       guildID,
		WalletBalance: wallet,
		BankBalance:   bank,
	}
}

func (f *fakeAccountRepo) Create(_ context.Context, account *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[f.key(account.DiscordID, account.GuildID)] = account
	return nil
}

func (f *fakeAccountRepo) GetByDiscordID(_ context.Context, discordID, guildID string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[f.key(discordID, guildID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *account
	return &copied, nil
}

func (f *fakeAccountRepo) GetByGuild(_ context.Context, guildID string) ([]*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	var out []*models.Account
	for _, account := range f.accounts {
		if account.GuildID == guildID {
			copied := *account
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeAccountRepo) SetBalance(_ context.Context, discordID, guildID string, wallet, bank int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[discordID] {
		return fmt.Errorf("write refused for %s", discordID)
	}
	account, ok := f.accounts[f.key(discordID, guildID)]
	if !ok {
		return sql.ErrNoRows
	}
	account.WalletBalance = wallet
	account.BankBalance = bank
	return nil
}

func (f *fakeAccountRepo) AddToWallet(_ context.Context, discordID, guildID string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[discordID] {
		return fmt.Errorf("write refused for %s", discordID)
	}
	account, ok := f.accounts[f.key(discordID, guildID)]
	if !ok {
		return sql.ErrNoRows
	}
	account.WalletBalance += amount
	return nil
}

func (f *fakeAccountRepo) GetTopAccounts(ctx context.Context, guildID string, _ int) ([]*models.Account, error) {
	return f.GetByGuild(ctx, guildID)
}

func (f *fakeAccountRepo) ListGuildIDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, account := range f.accounts {
		if !seen[account.GuildID] {
			seen[account.GuildID] = true
			out = append(out, account.GuildID)
		}
	}
	return out, nil
}

func (f *fakeAccountRepo) balance(discordID, guildID string) (int64, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account := f.accounts[f.key(discordID, guildID)]
	return account.WalletBalance, account.BankBalance
}

// stubRand pins both draws to fixed values.
type stubRand struct {
	f float64
	n int64
}

func (r stubRand) Float64() float64   { return r.f }
func (r stubRand) Int63n(int64) int64 { return r.n }

func newTestScheduler(repo *fakeAccountRepo, rng Rand, cfg SchedulerConfig, now time.Time) *InterventionScheduler {
	s := NewInterventionScheduler(repo, NewMultiplierEngine(nil), nil, rng, cfg)
	s.now = func() time.Time { return now }
	return s
}

func excellentSnapshot(guildID string, gini float64) *AnalysisSnapshot {
	return &AnalysisSnapshot{GuildID: guildID, HealthLevel: HealthExcellent, GiniIndex: gini}
}

func TestCheckCrash(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.add("rich", "g1", 6_000_000, 4_000_000)
	repo.add("mid", "g1", 4_000_000, 900_000) // just below the floor
	repo.add("poor", "g1", 1_000, 0)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Float64 of 0.5 puts the loss percentage exactly mid-range: 9%.
	s := newTestScheduler(repo, stubRand{f: 0.5}, SchedulerConfig{}, now)

	result, err := s.Check(context.Background(), excellentSnapshot("g1", 0.75))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, InterventionCrash, result.Kind)
	assert.Equal(t, 1, result.Affected)
	assert.Zero(t, result.FailedWrites)
	assert.InDelta(t, 0.09, result.Percent, 1e-9)
	assert.Equal(t, int64(900_000), result.TotalDebited)

	// Wallet is drained first; the bank only absorbs the overflow.
	wallet, bank := repo.balance("rich", "g1")
	assert.Equal(t, int64(5_100_000), wallet)
	assert.Equal(t, int64(4_000_000), bank)

	// Accounts below the floor are never touched.
	wallet, bank = repo.balance("mid", "g1")
	assert.Equal(t, int64(4_000_000), wallet)
	assert.Equal(t, int64(900_000), bank)

	// A reduced payout window is active.
	factor, _, ok := s.multipliers.ActiveOverride()
	require.True(t, ok)
	assert.InDelta(t, CrashOverrideFactor, factor, 1e-9)
}

func TestCheckCrashCooldown(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.add("rich", "g1", 10_000_000, 0)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestScheduler(repo, stubRand{f: 0.5}, SchedulerConfig{}, now)

	first, err := s.Check(context.Background(), excellentSnapshot("g1", 0.75))
	require.NoError(t, err)
	require.NotNil(t, first)

	// Same instant, cooldown not elapsed: nothing fires.
	second, err := s.Check(context.Background(), excellentSnapshot("g1", 0.75))
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestCheckRequiresKnownHealth(t *testing.T) {
	repo := newFakeAccountRepo()
	s := newTestScheduler(repo, stubRand{}, SchedulerConfig{}, time.Now())

	result, err := s.Check(context.Background(), &AnalysisSnapshot{GuildID: "g1", HealthLevel: HealthUnknown})
	require.NoError(t, err)
	assert.Nil(t, result)

	result, err = s.Check(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestCheckDailyCap(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.add("rich", "g1", 10_000_000, 0)

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := newTestScheduler(repo, stubRand{f: 0.5}, SchedulerConfig{}, now)

	s.mu.Lock()
	st := s.state("g1")
	st.Events = []time.Time{now.Add(-23 * time.Hour), now.Add(-2 * time.Hour), now.Add(-time.Hour)}
	s.mu.Unlock()

	result, err := s.Check(context.Background(), excellentSnapshot("g1", 0.75))
	require.NoError(t, err)
	assert.Nil(t, result, "cap exhausted, nothing may fire")

	// An hour later the oldest event has aged out of the trailing window.
	s.now = func() time.Time { return now.Add(61 * time.Minute) }
	result, err = s.Check(context.Background(), excellentSnapshot("g1", 0.75))
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestDailyCapWindowIsRolling(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.add("whale", "g1", 0, 60_000_000)
	repo.add("poor", "g1", 500, 0)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := newTestScheduler(repo, stubRand{f: 0.5, n: 500}, SchedulerConfig{}, start)

	// An ineligible early check must not anchor the window.
	result, err := s.Check(context.Background(), &AnalysisSnapshot{GuildID: "g1", HealthLevel: HealthFair, GiniIndex: 0.1})
	require.NoError(t, err)
	require.Nil(t, result)

	// Three distinct interventions land late in the first day.
	fire := func(offset time.Duration, snap *AnalysisSnapshot, want InterventionKind) {
		t.Helper()
		s.now = func() time.Time { return start.Add(offset) }
		result, err := s.Check(context.Background(), snap)
		require.NoError(t, err)
		require.NotNil(t, result)
		require.Equal(t, want, result.Kind)
	}
	fire(21*time.Hour, excellentSnapshot("g1", 0.75), InterventionCrash)
	fire(22*time.Hour, &AnalysisSnapshot{GuildID: "g1", HealthLevel: HealthPoor}, InterventionStimulus)
	fire(23*time.Hour, &AnalysisSnapshot{GuildID: "g1", HealthLevel: HealthFair, GiniIndex: 0.8}, InterventionWealthTax)

	// Early the next day all three still sit inside the trailing 24 hours,
	// so nothing may fire even though every cooldown has elapsed.
	s.now = func() time.Time { return start.Add(25 * time.Hour) }
	result, err = s.Check(context.Background(), excellentSnapshot("g1", 0.75))
	require.NoError(t, err)
	assert.Nil(t, result, "three events within the trailing 24h block a fourth")

	// Once the earliest event ages out, the cap frees one slot.
	s.now = func() time.Time { return start.Add(45*time.Hour + 30*time.Minute) }
	result, err = s.Check(context.Background(), excellentSnapshot("g1", 0.75))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, InterventionCrash, result.Kind)
}

func TestCheckStimulus(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.add("poor1", "g1", 500, 0)
	repo.add("poor2", "g1", 0, 2_000)
	repo.add("edge", "g1", 10_000, 0) // exactly at the ceiling: excluded
	repo.add("rich", "g1", 5_000_000, 0)
	repo.add("house", "g1", 100, 0)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := SchedulerConfig{ExemptUserIDs: map[string]struct{}{"house": {}}}
	// Int63n of 500 puts the payout at 1500.
	s := newTestScheduler(repo, stubRand{n: 500}, cfg, now)

	for _, level := range []HealthLevel{HealthPoor, HealthCritical} {
		repo2 := newFakeAccountRepo()
		repo2.add("poor1", "g1", 500, 0)
		s2 := newTestScheduler(repo2, stubRand{n: 500}, SchedulerConfig{}, now)

		result, err := s2.Check(context.Background(), &AnalysisSnapshot{GuildID: "g1", HealthLevel: level})
		require.NoError(t, err)
		require.NotNil(t, result, "stimulus must fire on %s", level)
	}

	result, err := s.Check(context.Background(), &AnalysisSnapshot{GuildID: "g1", HealthLevel: HealthPoor})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, InterventionStimulus, result.Kind)
	assert.Equal(t, int64(1_500), result.Amount)
	assert.Equal(t, 2, result.Affected)
	assert.Equal(t, int64(3_000), result.TotalCredited)

	wallet, _ := repo.balance("poor1", "g1")
	assert.Equal(t, int64(2_000), wallet)
	wallet, bank := repo.balance("poor2", "g1")
	assert.Equal(t, int64(1_500), wallet)
	assert.Equal(t, int64(2_000), bank)

	// Ceiling, wealth and exemption all exclude.
	wallet, _ = repo.balance("edge", "g1")
	assert.Equal(t, int64(10_000), wallet)
	wallet, _ = repo.balance("house", "g1")
	assert.Equal(t, int64(100), wallet)

	factor, _, ok := s.multipliers.ActiveOverride()
	require.True(t, ok)
	assert.InDelta(t, StimulusOverrideFactor, factor, 1e-9)
}

func TestCheckWealthTax(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.add("whale", "g1", 10_000_000, 50_000_000) // 60M: 2.5% bracket
	repo.add("rich", "g1", 0, 20_000_000)           // 20M: 1.5% bracket
	repo.add("mid", "g1", 6_000_000, 0)             // 6M: 1.0% bracket
	repo.add("poor1", "g1", 100, 0)
	repo.add("poor2", "g1", 200, 0)
	repo.add("poor3", "g1", 300, 0)
	repo.add("settled", "g1", 2_000_000, 0) // between brackets and ceiling: neither taxed nor paid

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestScheduler(repo, stubRand{}, SchedulerConfig{}, now)

	result, err := s.Check(context.Background(), &AnalysisSnapshot{GuildID: "g1", HealthLevel: HealthFair, GiniIndex: 0.8})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, InterventionWealthTax, result.Kind)
	assert.Equal(t, 3, result.Affected)

	// 60M*2.5% + 20M*1.5% + 6M*1% = 1.5M + 300k + 60k
	assert.Equal(t, int64(1_860_000), result.TotalDebited)

	// Equal share capped at the per-account ceiling.
	assert.Equal(t, int64(150_000), result.TotalCredited)
	assert.Equal(t, int64(1_710_000), result.Undistributed)

	// Tax comes out of the bank first.
	wallet, bank := repo.balance("whale", "g1")
	assert.Equal(t, int64(10_000_000), wallet)
	assert.Equal(t, int64(48_500_000), bank)

	wallet, bank = repo.balance("rich", "g1")
	assert.Equal(t, int64(0), wallet)
	assert.Equal(t, int64(19_700_000), bank)

	wallet, _ = repo.balance("poor1", "g1")
	assert.Equal(t, int64(50_100), wallet)

	wallet, _ = repo.balance("settled", "g1")
	assert.Equal(t, int64(2_000_000), wallet)

	// Redistribution happens at most once per calendar day, regardless of
	// the cooldown.
	s.now = func() time.Time { return now.Add(7 * time.Hour) }
	again, err := s.Check(context.Background(), &AnalysisSnapshot{GuildID: "g1", HealthLevel: HealthFair, GiniIndex: 0.8})
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestCheckWealthTaxSkipsFailedWrites(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.add("whale", "g1", 0, 60_000_000)
	repo.add("rich", "g1", 0, 20_000_000)
	repo.add("poor1", "g1", 100, 0)
	repo.failIDs["whale"] = true

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestScheduler(repo, stubRand{}, SchedulerConfig{}, now)

	result, err := s.Check(context.Background(), &AnalysisSnapshot{GuildID: "g1", HealthLevel: HealthFair, GiniIndex: 0.8})
	require.NoError(t, err)
	require.NotNil(t, result)

	// The refused account is skipped, not fatal; only the clean debit counts.
	assert.Equal(t, 1, result.Affected)
	assert.Equal(t, 1, result.FailedWrites)
	assert.Equal(t, int64(300_000), result.TotalDebited)

	_, bank := repo.balance("whale", "g1")
	assert.Equal(t, int64(60_000_000), bank)
}

func TestInterventionPriority(t *testing.T) {
	// An EXCELLENT economy with extreme inequality qualifies for both a
	// crash and a wealth tax; the crash wins and only one fires per check.
	repo := newFakeAccountRepo()
	repo.add("whale", "g1", 0, 60_000_000)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestScheduler(repo, stubRand{f: 0.5}, SchedulerConfig{}, now)

	result, err := s.Check(context.Background(), excellentSnapshot("g1", 0.8))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, InterventionCrash, result.Kind)

	s.mu.Lock()
	assert.Len(t, s.state("g1").Events, 1)
	assert.True(t, s.state("g1").LastWealthTax.IsZero())
	s.mu.Unlock()
}

// gatedAccountRepo parks population scans on a channel so a check can be
// held mid-execution.
type gatedAccountRepo struct {
	*fakeAccountRepo
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedAccountRepo) GetByGuild(ctx context.Context, guildID string) ([]*models.Account, error) {
	g.entered <- struct{}{}
	<-g.gate
	return g.fakeAccountRepo.GetByGuild(ctx, guildID)
}

func TestCheckConcurrentChecksShareOneSlot(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.add("rich", "g1", 10_000_000, 0)
	gated := &gatedAccountRepo{
		fakeAccountRepo: repo,
		entered:         make(chan struct{}),
		gate:            make(chan struct{}),
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewInterventionScheduler(gated, NewMultiplierEngine(nil), nil, stubRand{f: 0.5}, SchedulerConfig{})
	s.now = func() time.Time { return now }

	done := make(chan *InterventionResult, 1)
	go func() {
		result, err := s.Check(context.Background(), excellentSnapshot("g1", 0.75))
		assert.NoError(t, err)
		done <- result
	}()

	// The first check holds the slot while its balance writes are still in
	// flight. A manual trigger racing it must see the cooldown as spent.
	<-gated.entered
	second, err := s.Check(context.Background(), excellentSnapshot("g1", 0.75))
	require.NoError(t, err)
	assert.Nil(t, second, "only one check may fire inside the cooldown")

	close(gated.gate)
	first := <-done
	require.NotNil(t, first)
	assert.Equal(t, InterventionCrash, first.Kind)
}

// flakyAccountRepo fails the first scans, then recovers.
type flakyAccountRepo struct {
	*fakeAccountRepo
	failures int
}

func (f *flakyAccountRepo) GetByGuild(ctx context.Context, guildID string) ([]*models.Account, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, fmt.Errorf("connection reset")
	}
	f.mu.Unlock()
	return f.fakeAccountRepo.GetByGuild(ctx, guildID)
}

func TestCheckFailureReleasesClaim(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.add("rich", "g1", 10_000_000, 0)
	flaky := &flakyAccountRepo{fakeAccountRepo: repo, failures: 1}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewInterventionScheduler(flaky, NewMultiplierEngine(nil), nil, stubRand{f: 0.5}, SchedulerConfig{})
	s.now = func() time.Time { return now }

	_, err := s.Check(context.Background(), excellentSnapshot("g1", 0.75))
	require.Error(t, err)

	// A failed intervention burns neither the cooldown nor a cap slot.
	s.mu.Lock()
	assert.Empty(t, s.state("g1").Events)
	assert.True(t, s.state("g1").LastCrash.IsZero())
	s.mu.Unlock()

	result, err := s.Check(context.Background(), excellentSnapshot("g1", 0.75))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, InterventionCrash, result.Kind)
}

func TestStatesArePerScope(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.add("rich1", "g1", 10_000_000, 0)
	repo.add("rich2", "g2", 10_000_000, 0)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestScheduler(repo, stubRand{f: 0.5}, SchedulerConfig{}, now)

	first, err := s.Check(context.Background(), excellentSnapshot("g1", 0.75))
	require.NoError(t, err)
	require.NotNil(t, first)

	// The g1 cooldown must not gate g2.
	second, err := s.Check(context.Background(), excellentSnapshot("g2", 0.75))
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "g2", second.GuildID)
}

func TestDebitHelpers(t *testing.T) {
	wallet, bank := debitWalletFirst(1000, 500, 300)
	assert.Equal(t, int64(700), wallet)
	assert.Equal(t, int64(500), bank)

	wallet, bank = debitWalletFirst(1000, 500, 1200)
	assert.Equal(t, int64(0), wallet)
	assert.Equal(t, int64(300), bank)

	wallet, bank = debitWalletFirst(1000, 500, 9999)
	assert.Equal(t, int64(0), wallet)
	assert.Equal(t, int64(0), bank)

	wallet, bank = debitBankFirst(1000, 500, 300)
	assert.Equal(t, int64(1000), wallet)
	assert.Equal(t, int64(200), bank)

	wallet, bank = debitBankFirst(1000, 500, 700)
	assert.Equal(t, int64(800), wallet)
	assert.Equal(t, int64(0), bank)
}
