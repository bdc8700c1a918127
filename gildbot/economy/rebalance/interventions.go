package rebalance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gildhall/gildbot/gildbot/database/models"
	"github.com/gildhall/gildbot/gildbot/database/repositories"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// InterventionKind identifies one of the three stabilizing interventions.
type InterventionKind string

const (
	InterventionCrash     InterventionKind = "crash"
	InterventionStimulus  InterventionKind = "stimulus"
	InterventionWealthTax InterventionKind = "wealth_tax"
)

// InterventionState gates future interventions for one scope. It is
// bookkeeping only and never leaves this package.
type InterventionState struct {
	LastCrash     time.Time
	LastStimulus  time.Time
	LastWealthTax time.Time
	Events        []time.Time
	LastTaxDay    string
}

// rollWindow drops event timestamps that have aged out of the trailing 24
// hours. The cap counts against a window ending now, not a fixed boundary.
func (st *InterventionState) rollWindow(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	kept := st.Events[:0]
	for _, at := range st.Events {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	st.Events = kept
}

func dropEvent(events []time.Time, at time.Time) []time.Time {
	for i, t := range events {
		if t.Equal(at) {
			return append(events[:i], events[i+1:]...)
		}
	}
	return events
}

// InterventionResult summarizes one applied intervention for announcement
// and metrics.
type InterventionResult struct {
	Kind    InterventionKind
	GuildID string

	Affected     int
	FailedWrites int

	TotalDebited  int64
	TotalCredited int64
	// Undistributed is the wealth-tax remainder dropped by the per-account
	// share cap. Surfaced explicitly instead of vanishing.
	Undistributed int64

	Percent float64 // crash percentage drawn for this trigger
	Amount  int64   // stimulus amount drawn for this trigger

	OverrideFactor   float64
	OverrideDuration time.Duration
}

// SchedulerConfig carries the gating tunables. Zero values fall back to the
// package defaults.
type SchedulerConfig struct {
	CrashCooldown    time.Duration
	StimulusCooldown time.Duration
	TaxCooldown      time.Duration
	DailyEventCap    int
	ExemptUserIDs    map[string]struct{}
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.CrashCooldown <= 0 {
		c.CrashCooldown = DefaultCrashCooldown
	}
	if c.StimulusCooldown <= 0 {
		c.StimulusCooldown = DefaultStimulusCooldown
	}
	if c.TaxCooldown <= 0 {
		c.TaxCooldown = DefaultTaxCooldown
	}
	if c.DailyEventCap <= 0 {
		c.DailyEventCap = DefaultDailyEventCap
	}
	return c
}

// InterventionScheduler decides whether a fresh analysis warrants one of the
// three interventions and applies it. At most one intervention fires per
// check; ineligible preconditions are silent no-ops retried next cycle.
type InterventionScheduler struct {
	accounts    repositories.AccountRepository
	multipliers *MultiplierEngine
	announcer   Announcer
	rng         Rand
	now         func() time.Time
	cfg         SchedulerConfig

	mu     sync.Mutex
	states map[string]*InterventionState
}

func NewInterventionScheduler(
	accounts repositories.AccountRepository,
	multipliers *MultiplierEngine,
	announcer Announcer,
	rng Rand,
	cfg SchedulerConfig,
) *InterventionScheduler {
	if rng == nil {
		rng = NewRand(0)
	}
	return &InterventionScheduler{
		accounts:    accounts,
		multipliers: multipliers,
		announcer:   announcer,
		rng:         rng,
		now:         time.Now,
		cfg:         cfg.withDefaults(),
		states:      make(map[string]*InterventionState),
	}
}

func (s *InterventionScheduler) state(guildID string) *InterventionState {
	st, ok := s.states[guildID]
	if !ok {
		st = &InterventionState{}
		s.states[guildID] = st
	}
	return st
}

// Check evaluates eligibility against the snapshot and applies at most one
// intervention. Returns nil, nil when nothing fired.
func (s *InterventionScheduler) Check(ctx context.Context, snap *AnalysisSnapshot) (*InterventionResult, error) {
	if snap == nil || snap.HealthLevel == HealthUnknown {
		return nil, nil
	}

	s.mu.Lock()
	st := s.state(snap.GuildID)
	now := s.now()
	st.rollWindow(now)

	var kind InterventionKind
	switch {
	case len(st.Events) >= s.cfg.DailyEventCap:
		// cap exhausted, nothing can fire
	case snap.HealthLevel == HealthExcellent &&
		snap.GiniIndex > CrashGiniThreshold &&
		now.Sub(st.LastCrash) >= s.cfg.CrashCooldown:
		kind = InterventionCrash
	case (snap.HealthLevel == HealthPoor || snap.HealthLevel == HealthCritical) &&
		now.Sub(st.LastStimulus) >= s.cfg.StimulusCooldown:
		kind = InterventionStimulus
	case snap.GiniIndex > TaxGiniThreshold &&
		now.Sub(st.LastWealthTax) >= s.cfg.TaxCooldown &&
		st.LastTaxDay != now.Format("2006-01-02"):
		kind = InterventionWealthTax
	}

	// Claim the slot before the slow repository work, so a concurrent check
	// racing this one cannot pass the same gate inside the cooldown.
	var prevAt time.Time
	var prevTaxDay string
	if kind != "" {
		st.Events = append(st.Events, now)
		switch kind {
		case InterventionCrash:
			prevAt, st.LastCrash = st.LastCrash, now
		case InterventionStimulus:
			prevAt, st.LastStimulus = st.LastStimulus, now
		case InterventionWealthTax:
			prevAt, st.LastWealthTax = st.LastWealthTax, now
			prevTaxDay, st.LastTaxDay = st.LastTaxDay, now.Format("2006-01-02")
		}
	}
	s.mu.Unlock()

	if kind == "" {
		return nil, nil
	}

	var result *InterventionResult
	var err error
	switch kind {
	case InterventionCrash:
		result, err = s.executeCrash(ctx, snap.GuildID)
	case InterventionStimulus:
		result, err = s.executeStimulus(ctx, snap.GuildID)
	case InterventionWealthTax:
		result, err = s.executeWealthTax(ctx, snap.GuildID)
	}
	if err != nil {
		// Release the claim so the next cycle can retry.
		s.mu.Lock()
		st.Events = dropEvent(st.Events, now)
		switch kind {
		case InterventionCrash:
			st.LastCrash = prevAt
		case InterventionStimulus:
			st.LastStimulus = prevAt
		case InterventionWealthTax:
			st.LastWealthTax = prevAt
			st.LastTaxDay = prevTaxDay
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("%s intervention: %w", kind, err)
	}

	slog.Info("Intervention applied",
		slog.String("type", "eco"),
		slog.String("guild_id", snap.GuildID),
		slog.String("kind", string(kind)),
		slog.Int("affected", result.Affected),
		slog.Int("failed_writes", result.FailedWrites))

	if s.announcer != nil {
		if err := s.announcer.AnnounceIntervention(ctx, result); err != nil {
			slog.Warn("Intervention announcement failed",
				slog.String("type", "eco"),
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()))
		}
	}

	return result, nil
}

func (s *InterventionScheduler) exempt(discordID string) bool {
	_, ok := s.cfg.ExemptUserIDs[discordID]
	return ok
}

// executeCrash removes a uniform random percentage, drawn once, from every
// account at or above the high-wealth floor. Smaller accounts are untouched.
func (s *InterventionScheduler) executeCrash(ctx context.Context, guildID string) (*InterventionResult, error) {
	accounts, err := s.accounts.GetByGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}

	pct := CrashMinPercent + s.rng.Float64()*(CrashMaxPercent-CrashMinPercent)

	result := &InterventionResult{
		Kind:             InterventionCrash,
		GuildID:          guildID,
		Percent:          pct,
		OverrideFactor:   CrashOverrideFactor,
		OverrideDuration: CrashOverrideWindow,
	}

	var debited atomic.Int64
	var failed atomic.Int32
	var affected atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(interventionWriteWorkers)

	for _, account := range accounts {
		if s.exempt(account.DiscordID) || account.TotalBalance() < CrashWealthFloor {
			continue
		}
		account := account
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			loss := int64(float64(account.TotalBalance()) * pct)
			wallet, bank := debitWalletFirst(account.WalletBalance, account.BankBalance, loss)

			if err := s.accounts.SetBalance(gctx, account.DiscordID, guildID, wallet, bank); err != nil {
				failed.Add(1)
				slog.Warn("Crash balance write failed, skipping account",
					slog.String("type", "eco"),
					slog.String("discord_id", account.DiscordID),
					slog.String("error", err.Error()))
				return nil
			}
			debited.Add(loss)
			affected.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.TotalDebited = debited.Load()
	result.FailedWrites = int(failed.Load())
	result.Affected = int(affected.Load())

	s.multipliers.ApplyOverride(CrashOverrideFactor, CrashOverrideWindow)
	return result, nil
}

// executeStimulus credits a flat random amount, drawn once, to every account
// below the low-wealth ceiling.
func (s *InterventionScheduler) executeStimulus(ctx context.Context, guildID string) (*InterventionResult, error) {
	accounts, err := s.accounts.GetByGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}

	amount := StimulusMinAmount + s.rng.Int63n(StimulusMaxAmount-StimulusMinAmount+1)

	result := &InterventionResult{
		Kind:             InterventionStimulus,
		GuildID:          guildID,
		Amount:           amount,
		OverrideFactor:   StimulusOverrideFactor,
		OverrideDuration: StimulusOverrideWindow,
	}

	var credited atomic.Int64
	var failed atomic.Int32
	var affected atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(interventionWriteWorkers)

	for _, account := range accounts {
		if s.exempt(account.DiscordID) || account.TotalBalance() >= StimulusWealthCeiling {
			continue
		}
		account := account
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			if err := s.accounts.AddToWallet(gctx, account.DiscordID, guildID, amount); err != nil {
				failed.Add(1)
				slog.Warn("Stimulus credit failed, skipping account",
					slog.String("type", "eco"),
					slog.String("discord_id", account.DiscordID),
					slog.String("error", err.Error()))
				return nil
			}
			credited.Add(amount)
			affected.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.TotalCredited = credited.Load()
	result.FailedWrites = int(failed.Load())
	result.Affected = int(affected.Load())

	s.multipliers.ApplyOverride(StimulusOverrideFactor, StimulusOverrideWindow)
	return result, nil
}

// executeWealthTax taxes the top brackets and redistributes the collected
// sum as an equal capped share to every account below the eligibility
// ceiling. The capped remainder is reported, not silently dropped.
func (s *InterventionScheduler) executeWealthTax(ctx context.Context, guildID string) (*InterventionResult, error) {
	accounts, err := s.accounts.GetByGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}

	result := &InterventionResult{
		Kind:    InterventionWealthTax,
		GuildID: guildID,
	}

	var collected atomic.Int64
	var failed atomic.Int32
	var taxedCount atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(interventionWriteWorkers)

	var recipients []*models.Account
	for _, account := range accounts {
		if s.exempt(account.DiscordID) {
			continue
		}

		total := account.TotalBalance()
		rate := taxRate(total)
		if rate == 0 {
			if total < RedistributionCeiling {
				recipients = append(recipients, account)
			}
			continue
		}

		account := account
		tax := int64(float64(total) * rate)
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			wallet, bank := debitBankFirst(account.WalletBalance, account.BankBalance, tax)
			if err := s.accounts.SetBalance(gctx, account.DiscordID, guildID, wallet, bank); err != nil {
				failed.Add(1)
				slog.Warn("Wealth tax debit failed, skipping account",
					slog.String("type", "eco"),
					slog.String("discord_id", account.DiscordID),
					slog.String("error", err.Error()))
				return nil
			}
			collected.Add(tax)
			taxedCount.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.TotalDebited = collected.Load()
	result.FailedWrites = int(failed.Load())
	result.Affected = int(taxedCount.Load())

	if result.TotalDebited == 0 || len(recipients) == 0 {
		result.Undistributed = result.TotalDebited
		return result, nil
	}

	share := result.TotalDebited / int64(len(recipients))
	if share > RedistributionShareCap {
		share = RedistributionShareCap
	}
	if share == 0 {
		result.Undistributed = result.TotalDebited
		return result, nil
	}

	var credited atomic.Int64

	g2, gctx2 := errgroup.WithContext(ctx)
	sem2 := semaphore.NewWeighted(interventionWriteWorkers)
	for _, account := range recipients {
		account := account
		g2.Go(func() error {
			if err := sem2.Acquire(gctx2, 1); err != nil {
				return err
			}
			defer sem2.Release(1)

			if err := s.accounts.AddToWallet(gctx2, account.DiscordID, guildID, share); err != nil {
				failed.Add(1)
				slog.Warn("Redistribution credit failed, skipping account",
					slog.String("type", "eco"),
					slog.String("discord_id", account.DiscordID),
					slog.String("error", err.Error()))
				return nil
			}
			credited.Add(share)
			return nil
		})
	}

	if err := g2.Wait(); err != nil {
		return nil, err
	}

	result.TotalCredited = credited.Load()
	result.FailedWrites = int(failed.Load())
	result.Undistributed = result.TotalDebited - result.TotalCredited

	return result, nil
}

func taxRate(total int64) float64 {
	switch {
	case total > TaxBracket1Floor:
		return TaxBracket1Rate
	case total > TaxBracket2Floor:
		return TaxBracket2Rate
	case total > TaxBracket3Floor:
		return TaxBracket3Rate
	default:
		return 0
	}
}

// debitWalletFirst removes amount from wallet, overflowing into bank.
func debitWalletFirst(wallet, bank, amount int64) (int64, int64) {
	wallet -= amount
	if wallet < 0 {
		bank += wallet
		wallet = 0
	}
	if bank < 0 {
		bank = 0
	}
	return wallet, bank
}

// debitBankFirst removes amount from bank, overflowing into wallet.
func debitBankFirst(wallet, bank, amount int64) (int64, int64) {
	bank -= amount
	if bank < 0 {
		wallet += bank
		bank = 0
	}
	if wallet < 0 {
		wallet = 0
	}
	return wallet, bank
}
