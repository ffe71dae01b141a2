package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kicker-achievements/internal/condition"
	"github.com/kicker-achievements/internal/config"
	"github.com/kicker-achievements/internal/domain"
)

// Notifier receives unlock notifications. Publish must not block.
type Notifier interface {
	Publish(n domain.UnlockNotification)
}

// Status is the result of evaluating one definition for one event
type Status string

const (
	StatusEvaluated Status = "evaluated"
	StatusDuplicate Status = "duplicate"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// DefinitionResult reports one definition's evaluation
type DefinitionResult struct {
	AchievementID  string                      `json:"achievement_id"`
	AchievementKey string                      `json:"achievement_key"`
	Status         Status                      `json:"status"`
	Unlocks        []domain.UnlockNotification `json:"unlocks,omitempty"`
	Error          string                      `json:"error,omitempty"`
}

// Report is the outcome of processing one event
type Report struct {
	EventID string             `json:"event_id"`
	Results []DefinitionResult `json:"results"`
}

// Unlocks returns every unlock produced while processing the event
func (r Report) Unlocks() []domain.UnlockNotification {
	var out []domain.UnlockNotification
	for _, res := range r.Results {
		out = append(out, res.Unlocks...)
	}
	return out
}

// Dispatcher fans an event out to the definitions it triggers and runs
// matcher, accessor, decider and reward linker for each one.
type Dispatcher struct {
	store    Store
	notifier Notifier
	accessor *Accessor
	decider  *Decider
	linker   *RewardLinker
	config   *config.EngineConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(store Store, notifier Notifier, cfg *config.EngineConfig, logger *slog.Logger) *Dispatcher {
	accessor := NewAccessor(time.Now)
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		accessor: accessor,
		decider:  NewDecider(accessor),
		linker:   NewRewardLinker(logger),
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Process evaluates one event. A failing definition does not affect the
// others; its failure is recorded for the retry worker. The returned error
// is a ValidationError when the event itself is unusable. Any other error
// means the event was not fully evaluated or handed to the retry worker
// and must be delivered again.
func (d *Dispatcher) Process(ctx context.Context, ev domain.Event) (Report, error) {
	report := Report{EventID: ev.EventID}
	if err := ev.Validate(); err != nil {
		return report, err
	}

	start := time.Now()
	defer func() { evaluationDuration.Observe(time.Since(start).Seconds()) }()

	defs, err := d.store.ListDefinitions(ctx)
	if err != nil {
		return report, fmt.Errorf("listing definitions: %w", err)
	}
	index := domain.NewChainIndex(defs)

	var candidates []domain.Definition
	for _, def := range defs {
		if def.TriggerEvent != ev.Type {
			continue
		}
		if _, ok := def.Bucket(ev.SeasonID); !ok {
			continue
		}
		candidates = append(candidates, def)
	}

	var (
		mu      sync.Mutex
		lostErr error
	)
	// a parent is settled before its successor sees the same event
	for _, level := range chainLevels(candidates, index) {
		var g errgroup.Group
		g.SetLimit(d.workers())
		for _, def := range level {
			def := def
			g.Go(func() error {
				res, err := d.evaluateWithRetry(ctx, ev, def, index)
				mu.Lock()
				report.Results = append(report.Results, res)
				mu.Unlock()
				return err
			})
		}
		if err := g.Wait(); err != nil && lostErr == nil {
			lostErr = err
		}
	}

	sort.Slice(report.Results, func(i, j int) bool {
		return report.Results[i].AchievementKey < report.Results[j].AchievementKey
	})
	if lostErr != nil {
		return report, fmt.Errorf("event %s: %w", ev.EventID, lostErr)
	}
	eventsProcessed.WithLabelValues(string(ev.Type)).Inc()
	return report, nil
}

// chainLevels groups defs by chain depth, heads first
func chainLevels(defs []domain.Definition, index *domain.ChainIndex) [][]domain.Definition {
	var levels [][]domain.Definition
	for _, def := range defs {
		depth := index.Depth(def.ID)
		for len(levels) <= depth {
			levels = append(levels, nil)
		}
		levels[depth] = append(levels[depth], def)
	}
	return levels
}

// ProcessEvents processes events in order, each bounded by the configured
// event timeout, and returns how many of them are done. Invalid events
// count as done. Processing stops at the first event that must be
// delivered again. Order matters for streaks of the same player, so
// events are not parallelized.
func (d *Dispatcher) ProcessEvents(ctx context.Context, events []domain.Event) (int, error) {
	for i, ev := range events {
		err := d.processWithTimeout(ctx, ev)
		switch {
		case err == nil:
		case domain.IsValidationError(err):
			d.logger.Warn("skipping invalid event",
				"event_id", ev.EventID,
				"type", ev.Type,
				"error", err,
			)
		default:
			d.logger.Error("failed to process event",
				"event_id", ev.EventID,
				"type", ev.Type,
				"error", err,
			)
			return i, err
		}
	}
	return len(events), nil
}

func (d *Dispatcher) processWithTimeout(ctx context.Context, ev domain.Event) error {
	if d.config != nil && d.config.EventTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.EventTimeout)
		defer cancel()
	}
	_, err := d.Process(ctx, ev)
	return err
}

// Retry re-runs a single (event, achievement) pair once. A definition that
// no longer exists or no longer applies counts as done.
func (d *Dispatcher) Retry(ctx context.Context, ev domain.Event, achievementID string) error {
	defs, err := d.store.ListDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("listing definitions: %w", err)
	}
	index := domain.NewChainIndex(defs)
	def, ok := index.Definition(achievementID)
	if !ok || def.TriggerEvent != ev.Type {
		return nil
	}
	if _, ok := def.Bucket(ev.SeasonID); !ok {
		return nil
	}
	res, err := d.evaluate(ctx, ev, def, index)
	if err != nil && !errors.Is(err, domain.ErrDuplicateEvent) && !domain.IsValidationError(err) {
		return err
	}
	evaluations.WithLabelValues(string(res.Status)).Inc()
	return nil
}

func (d *Dispatcher) workers() int {
	if d.config == nil || d.config.Workers <= 0 {
		return 1
	}
	return d.config.Workers
}

// evaluateWithRetry retries transient failures, skips invalid definitions
// and records the pair for the retry worker once attempts run out. It
// returns an error only when the pair could not be recorded either.
func (d *Dispatcher) evaluateWithRetry(ctx context.Context, ev domain.Event, def domain.Definition, index *domain.ChainIndex) (DefinitionResult, error) {
	attempts, delay := 1, time.Duration(0)
	if d.config != nil {
		attempts, delay = max(d.config.RetryAttempts, 1), d.config.RetryDelay
	}

	var (
		res DefinitionResult
		err error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err = d.evaluate(ctx, ev, def, index)
		if err == nil || errors.Is(err, domain.ErrDuplicateEvent) || domain.IsValidationError(err) {
			break
		}
		d.logger.Warn("definition evaluation failed",
			"event_id", ev.EventID,
			"achievement_id", def.ID,
			"attempt", attempt,
			"error", err,
		)
		if attempt < attempts {
			select {
			case <-ctx.Done():
				attempt = attempts
			case <-time.After(delay):
			}
		}
	}

	var lost error
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrDuplicateEvent):
		res.Status = StatusDuplicate
	case domain.IsValidationError(err):
		d.logger.Error("skipping invalid achievement definition",
			"achievement_id", def.ID,
			"achievement_key", def.Key,
			"error", err,
		)
		res.Status, res.Error = StatusSkipped, err.Error()
	default:
		res.Status, res.Error = StatusFailed, err.Error()
		lost = d.recordFailure(ctx, ev, def, err)
	}
	evaluations.WithLabelValues(string(res.Status)).Inc()
	return res, lost
}

func (d *Dispatcher) recordFailure(ctx context.Context, ev domain.Event, def domain.Definition, cause error) error {
	now := d.now()
	f := domain.EvaluationFailure{
		EventID:       ev.EventID,
		AchievementID: def.ID,
		Event:         ev,
		Attempts:      1,
		LastError:     cause.Error(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	// the event context may already be cancelled; the record must still land
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.store.RecordFailure(recordCtx, f); err != nil {
		d.logger.Error("failed to record evaluation failure",
			"event_id", ev.EventID,
			"achievement_id", def.ID,
			"error", err,
		)
		return fmt.Errorf("recording failure of %s: %w (evaluation: %v)", def.ID, err, cause)
	}
	return nil
}

// evaluate runs one definition against every participant of the event as
// one atomic step keyed by (event, achievement). Notifications go out only
// after the step commits.
func (d *Dispatcher) evaluate(ctx context.Context, ev domain.Event, def domain.Definition, index *domain.ChainIndex) (DefinitionResult, error) {
	res := DefinitionResult{AchievementID: def.ID, AchievementKey: def.Key, Status: StatusEvaluated}
	if err := def.Condition.Validate(); err != nil {
		return res, err
	}
	bucket, _ := def.Bucket(ev.SeasonID)

	// lock rows in a stable order so concurrent events cannot deadlock
	participants := make([]domain.Participant, len(ev.Participants))
	copy(participants, ev.Participants)
	sort.Slice(participants, func(i, j int) bool { return participants[i].PlayerID < participants[j].PlayerID })

	var pending []domain.UnlockNotification
	err := d.store.RunPair(ctx, ev.EventID, def.ID, func(ctx context.Context, tx Tx) error {
		pending = pending[:0]
		for _, p := range participants {
			n, err := d.applyParticipant(ctx, tx, ev, def, index, bucket, p)
			if err != nil {
				return err
			}
			if n != nil {
				pending = append(pending, *n)
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	for _, n := range pending {
		unlocks.WithLabelValues(string(n.Kind)).Inc()
		d.logger.Info("achievement unlocked",
			"player_id", n.PlayerID,
			"achievement_key", n.AchievementKey,
			"kind", n.Kind,
			"times_completed", n.TimesCompleted,
		)
		if d.notifier != nil {
			d.notifier.Publish(n)
		}
	}
	res.Unlocks = append(res.Unlocks, pending...)
	return res, nil
}

func (d *Dispatcher) applyParticipant(ctx context.Context, tx Tx, ev domain.Event, def domain.Definition, index *domain.ChainIndex, bucket domain.SeasonBucket, p domain.Participant) (*domain.UnlockNotification, error) {
	key := domain.ProgressKey{PlayerID: p.PlayerID, AchievementID: def.ID, Bucket: bucket}

	existing, err := tx.GetUnlock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading unlock: %w", err)
	}
	if existing != nil && !def.IsRepeatable {
		return nil, nil
	}

	open, err := d.chainOpen(ctx, tx, ev, def, index, p.PlayerID)
	if err != nil {
		return nil, err
	}

	c, err := condition.Evaluate(def.Condition, condition.EventContext{
		Trigger:     ev.Type,
		Participant: p,
		Match:       ev.MatchContext,
	})
	if err != nil {
		return nil, err
	}
	if !c.Contributes() || !open {
		// contributions to a locked chain link are discarded, not persisted
		return nil, nil
	}

	applied, err := d.accessor.Apply(ctx, tx, key, ev.KickerID, ev.EventID, c)
	if err != nil {
		return nil, err
	}
	if applied.Duplicate {
		return nil, nil
	}

	outcome := d.decider.Decide(def, applied.Before, applied.After, c, existing)
	if outcome == OutcomeNone {
		return nil, nil
	}

	unlock, err := d.decider.Commit(ctx, tx, def, ev, applied.After, existing, outcome, d.eventTime(ev))
	if err != nil {
		return nil, err
	}
	if err := d.linker.OnUnlock(ctx, tx, p.PlayerID, def.Key); err != nil {
		return nil, err
	}

	kind := domain.UnlockNew
	if outcome == OutcomeRepeatUnlock {
		kind = domain.UnlockRepeat
	}
	n := domain.NotificationFromUnlock(unlock, def, kind)
	return &n, nil
}

// chainOpen reports whether def may accrue progress for the player: a chain
// head always may, a later link only once its parent is unlocked in the
// parent's own season-bucket.
func (d *Dispatcher) chainOpen(ctx context.Context, tx Tx, ev domain.Event, def domain.Definition, index *domain.ChainIndex, playerID string) (bool, error) {
	if def.ParentID == nil {
		return true, nil
	}
	parent, ok := index.Parent(def.ID)
	if !ok {
		d.logger.Warn("achievement chain parent missing, discarding contribution",
			"achievement_id", def.ID,
			"parent_id", *def.ParentID,
			"error", domain.ErrChainIntegrity,
		)
		return false, nil
	}
	parentBucket, ok := parent.Bucket(ev.SeasonID)
	if !ok {
		return false, nil
	}
	u, err := tx.GetUnlock(ctx, domain.ProgressKey{PlayerID: playerID, AchievementID: parent.ID, Bucket: parentBucket})
	if err != nil {
		return false, fmt.Errorf("reading parent unlock: %w", err)
	}
	return u != nil, nil
}

// eventTime prefers the event's own timestamp so replays are deterministic
func (d *Dispatcher) eventTime(ev domain.Event) time.Time {
	if !ev.OccurredAt.IsZero() {
		return ev.OccurredAt
	}
	return d.now()
}
