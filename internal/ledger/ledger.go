// Package ledger implements the five-level hierarchical budget ledger.
//
// One tree: universe -> candidate -> campaign -> channel -> tier. Every
// spend transaction touches all five nodes of a path or none of them; the
// all-or-nothing invariant is enforced in a single apply-delta primitive
// executed under all five node locks.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rallypoint-io/warroom/internal/common"
	"github.com/rallypoint-io/warroom/internal/model"
)

// Store persists ledger state. ApplyDelta must apply the delta to all given
// node keys in one transaction; if it returns an error the transaction is
// treated as not having happened.
type Store interface {
	GetLedgerNodes(ctx context.Context) ([]model.LedgerNode, error)
	UpsertLedgerNode(ctx context.Context, node model.LedgerNode) error
	ApplyLedgerDelta(ctx context.Context, keys []string, delta float64) error
	SaveReservation(ctx context.Context, reservation model.Reservation) error
	GetHeldReservations(ctx context.Context) ([]model.Reservation, error)
}

// node is one ledger tree node. Its mutex serializes every read and write
// of budget/actual; path operations take all five locks leaf-first.
type node struct {
	key    string
	level  model.LedgerLevel
	budget float64
	actual float64
	mu     sync.Mutex
}

func (n *node) snapshot() model.LedgerNode {
	return model.LedgerNode{
		Key:    n.key,
		Level:  n.level,
		Budget: n.budget,
		Actual: n.actual,
	}
}

// Ledger is the in-memory budget tree with write-through persistence.
type Ledger struct {
	store        Store
	nodes        map[string]*node
	reservations map[string]model.Reservation
	now          func() time.Time
	ttl          time.Duration
	mu           sync.Mutex
	resMu        sync.Mutex
}

// Config holds ledger options.
type Config struct {
	// ReservationTTL bounds how long a held reservation survives without a
	// commit before it is released.
	ReservationTTL time.Duration
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig() Config {
	return Config{ReservationTTL: 24 * time.Hour}
}

// New creates a ledger. The store may be nil for a memory-only ledger.
func New(store Store, cfg Config) *Ledger {
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = DefaultConfig().ReservationTTL
	}
	return &Ledger{
		store:        store,
		nodes:        make(map[string]*node),
		reservations: make(map[string]model.Reservation),
		ttl:          cfg.ReservationTTL,
		now:          time.Now,
	}
}

// Load hydrates the tree and held reservations from the store. Held
// reservations past their expiry are released immediately so a crash never
// strands budget.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	stored, err := l.store.GetLedgerNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger nodes: %w", err)
	}

	l.mu.Lock()
	for _, n := range stored {
		l.nodes[n.Key] = &node{key: n.Key, level: n.Level, budget: n.Budget, actual: n.Actual}
	}
	l.mu.Unlock()

	held, err := l.store.GetHeldReservations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load reservations: %w", err)
	}

	expired := 0
	l.resMu.Lock()
	for _, r := range held {
		l.reservations[r.ID] = r
	}
	l.resMu.Unlock()

	for _, r := range held {
		if r.Expired(l.now()) {
			if releaseErr := l.Release(ctx, r.ID); releaseErr != nil {
				slog.Warn("Failed to release expired reservation on load",
					"reservation_id", r.ID,
					"error", releaseErr)
				continue
			}
			expired++
		}
	}

	slog.Info("Ledger loaded",
		"nodes", len(stored),
		"held_reservations", len(held)-expired,
		"expired_released", expired)

	return nil
}

// Allocate sets the budget for one node, creating it if needed.
func (l *Ledger) Allocate(ctx context.Context, key string, level model.LedgerLevel, budget float64) error {
	if key == "" {
		return &common.ValidationError{Field: "key", Reason: "node key is required"}
	}
	if budget < 0 {
		return &common.ValidationError{Field: "budget", Reason: "budget must not be negative"}
	}

	n := l.getOrCreate(key, level)

	n.mu.Lock()
	defer n.mu.Unlock()

	prev := n.budget
	n.budget = budget
	if l.store != nil {
		if err := l.store.UpsertLedgerNode(ctx, n.snapshot()); err != nil {
			n.budget = prev
			return fmt.Errorf("failed to persist allocation: %w", err)
		}
	}

	slog.Info("Budget allocated", "key", key, "level", level, "budget", budget)
	return nil
}

// AllocatePath sets budgets for all five nodes of a path in one call, root
// budget first.
func (l *Ledger) AllocatePath(ctx context.Context, path model.LedgerPath, budgets map[model.LedgerLevel]float64) error {
	if err := path.Validate(); err != nil {
		return &common.ValidationError{Field: "path", Reason: err.Error()}
	}
	for _, level := range model.LedgerLevels {
		budget, ok := budgets[level]
		if !ok {
			continue
		}
		if err := l.Allocate(ctx, path.Key(level), level, budget); err != nil {
			return err
		}
	}
	return nil
}

// Node returns a consistent snapshot of one node.
func (l *Ledger) Node(key string) (model.LedgerNode, bool) {
	l.mu.Lock()
	n, ok := l.nodes[key]
	l.mu.Unlock()
	if !ok {
		return model.LedgerNode{}, false
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snapshot(), true
}

// Nodes returns snapshots of every node, sorted by key for stable output.
func (l *Ledger) Nodes() []model.LedgerNode {
	l.mu.Lock()
	all := make([]*node, 0, len(l.nodes))
	for _, n := range l.nodes {
		all = append(all, n)
	}
	l.mu.Unlock()

	out := make([]model.LedgerNode, 0, len(all))
	for _, n := range all {
		n.mu.Lock()
		out = append(out, n.snapshot())
		n.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// PathNodes returns snapshots of the five nodes on a path, root first.
func (l *Ledger) PathNodes(path model.LedgerPath) []model.LedgerNode {
	out := make([]model.LedgerNode, 0, len(model.LedgerLevels))
	for _, level := range model.LedgerLevels {
		if n, ok := l.Node(path.Key(level)); ok {
			out = append(out, n)
		}
	}
	return out
}

// CheckHeadroom verifies that amount fits at every level of the path
// without reserving anything. Checks run bottom-up and fail fast with the
// first insufficient level.
func (l *Ledger) CheckHeadroom(path model.LedgerPath, amount float64) error {
	if err := path.Validate(); err != nil {
		return &common.ValidationError{Field: "path", Reason: err.Error()}
	}
	if amount <= 0 {
		return &common.ValidationError{Field: "amount", Reason: "amount must be positive"}
	}

	nodes := l.pathNodesLeafFirst(path)
	lock(nodes)
	defer unlock(nodes)

	return l.headroomLocked(nodes, amount)
}

// Reserve holds amount across all five levels of the path. The headroom
// check and the increment happen under all five node locks, so a concurrent
// reader of any node sees either the full transaction or none of it.
func (l *Ledger) Reserve(ctx context.Context, path model.LedgerPath, amount float64, decisionID string) (model.Reservation, error) {
	if err := path.Validate(); err != nil {
		return model.Reservation{}, &common.ValidationError{Field: "path", Reason: err.Error()}
	}
	if amount <= 0 {
		return model.Reservation{}, &common.ValidationError{Field: "amount", Reason: "amount must be positive"}
	}

	// Idempotency: a retried evaluation for the same decision returns the
	// existing hold instead of double-spending.
	if decisionID != "" {
		if existing, ok := l.reservationForDecision(decisionID); ok {
			return existing, nil
		}
	}

	nodes := l.pathNodesLeafFirst(path)
	lock(nodes)
	defer unlock(nodes)

	if err := l.headroomLocked(nodes, amount); err != nil {
		return model.Reservation{}, err
	}

	// Persist first: a store failure means the transaction never happened.
	if l.store != nil {
		keys := make([]string, len(nodes))
		for i, n := range nodes {
			keys[i] = n.key
		}
		if err := l.store.ApplyLedgerDelta(ctx, keys, amount); err != nil {
			return model.Reservation{}, fmt.Errorf("failed to persist reservation delta: %w", err)
		}
	}

	for _, n := range nodes {
		n.actual += amount
	}

	now := l.now()
	reservation := model.Reservation{
		ID:         uuid.NewString(),
		DecisionID: decisionID,
		Path:       path,
		Amount:     amount,
		State:      model.ReservationHeld,
		CreatedAt:  now,
		ExpiresAt:  now.Add(l.ttl),
	}

	if err := l.saveReservation(ctx, reservation); err != nil {
		// Undo the increments; the hold is not observable without its record.
		for _, n := range nodes {
			n.actual -= amount
		}
		if l.store != nil {
			keys := make([]string, len(nodes))
			for i, n := range nodes {
				keys[i] = n.key
			}
			if undoErr := l.store.ApplyLedgerDelta(ctx, keys, -amount); undoErr != nil {
				slog.Error("Failed to undo reservation delta", "error", undoErr)
			}
		}
		return model.Reservation{}, err
	}

	slog.Debug("Budget reserved",
		"reservation_id", reservation.ID,
		"decision_id", decisionID,
		"amount", amount,
		"tier", path.Key(model.LevelTier))

	return reservation, nil
}

// Commit finalizes a held reservation. Committing an already-committed
// reservation is a no-op so crashed callers can retry safely.
func (l *Ledger) Commit(ctx context.Context, reservationID string) error {
	l.resMu.Lock()
	defer l.resMu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok {
		return fmt.Errorf("reservation %s: %w", reservationID, common.ErrNotFound)
	}

	switch r.State {
	case model.ReservationCommitted:
		return nil
	case model.ReservationReleased:
		return fmt.Errorf("reservation %s already released", reservationID)
	}

	r.State = model.ReservationCommitted
	if l.store != nil {
		if err := l.store.SaveReservation(ctx, r); err != nil {
			return fmt.Errorf("failed to persist commit: %w", err)
		}
	}
	l.reservations[reservationID] = r

	return nil
}

// Release returns a held reservation's amount to all five levels. Releasing
// an already-released reservation is a no-op. The held->released transition
// is claimed under resMu before any node is touched, so a concurrent Release
// of the same ID no-ops and a concurrent Commit errors; the nodes are only
// ever decremented once per reservation.
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	l.resMu.Lock()
	r, ok := l.reservations[reservationID]
	if !ok {
		l.resMu.Unlock()
		return fmt.Errorf("reservation %s: %w", reservationID, common.ErrNotFound)
	}
	if r.State == model.ReservationReleased {
		l.resMu.Unlock()
		return nil
	}
	if r.State == model.ReservationCommitted {
		l.resMu.Unlock()
		return fmt.Errorf("reservation %s is committed and cannot be released", reservationID)
	}
	r.State = model.ReservationReleased
	l.reservations[reservationID] = r
	l.resMu.Unlock()

	// Restores the hold if persistence refuses the release.
	unclaim := func() {
		l.resMu.Lock()
		r.State = model.ReservationHeld
		l.reservations[reservationID] = r
		l.resMu.Unlock()
	}

	nodes := l.pathNodesLeafFirst(r.Path)
	lock(nodes)

	if l.store != nil {
		keys := make([]string, len(nodes))
		for i, n := range nodes {
			keys[i] = n.key
		}
		if err := l.store.ApplyLedgerDelta(ctx, keys, -r.Amount); err != nil {
			unlock(nodes)
			unclaim()
			return fmt.Errorf("failed to persist release delta: %w", err)
		}
	}
	for _, n := range nodes {
		n.actual -= r.Amount
	}
	unlock(nodes)

	if l.store != nil {
		if err := l.store.SaveReservation(ctx, r); err != nil {
			return fmt.Errorf("failed to persist release: %w", err)
		}
	}

	slog.Debug("Reservation released", "reservation_id", reservationID, "amount", r.Amount)
	return nil
}

// Reservation returns a reservation by ID.
func (l *Ledger) Reservation(reservationID string) (model.Reservation, bool) {
	l.resMu.Lock()
	defer l.resMu.Unlock()
	r, ok := l.reservations[reservationID]
	return r, ok
}

// ReleaseExpired releases every held reservation whose hold window has
// lapsed and returns how many were released.
func (l *Ledger) ReleaseExpired(ctx context.Context) (int, error) {
	now := l.now()

	l.resMu.Lock()
	var due []string
	for id, r := range l.reservations {
		if r.Expired(now) {
			due = append(due, id)
		}
	}
	l.resMu.Unlock()

	released := 0
	for _, id := range due {
		if err := l.Release(ctx, id); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

func (l *Ledger) saveReservation(ctx context.Context, r model.Reservation) error {
	if l.store != nil {
		if err := l.store.SaveReservation(ctx, r); err != nil {
			return fmt.Errorf("failed to persist reservation: %w", err)
		}
	}
	l.resMu.Lock()
	l.reservations[r.ID] = r
	l.resMu.Unlock()
	return nil
}

func (l *Ledger) reservationForDecision(decisionID string) (model.Reservation, bool) {
	l.resMu.Lock()
	defer l.resMu.Unlock()
	for _, r := range l.reservations {
		if r.DecisionID == decisionID && r.State != model.ReservationReleased {
			return r, true
		}
	}
	return model.Reservation{}, false
}

// headroomLocked checks headroom bottom-up over nodes already ordered
// leaf-first. Callers must hold every node lock.
func (l *Ledger) headroomLocked(nodes []*node, amount float64) error {
	for _, n := range nodes {
		if n.budget-n.actual < amount {
			available := n.budget - n.actual
			if available < 0 {
				available = 0
			}
			return &common.InsufficientBudgetError{
				Level:     n.level,
				Key:       n.key,
				Requested: amount,
				Available: available,
			}
		}
	}
	return nil
}

// pathNodesLeafFirst returns the path's nodes ordered tier, channel,
// campaign, candidate, universe. All path operations acquire locks in this
// order; overlapping paths share a suffix of ancestors, so deeper-first
// acquisition is globally consistent and cannot deadlock.
func (l *Ledger) pathNodesLeafFirst(path model.LedgerPath) []*node {
	levels := []model.LedgerLevel{
		model.LevelTier, model.LevelChannel, model.LevelCampaign,
		model.LevelCandidate, model.LevelUniverse,
	}
	nodes := make([]*node, len(levels))
	for i, level := range levels {
		nodes[i] = l.getOrCreate(path.Key(level), level)
	}
	return nodes
}

func (l *Ledger) getOrCreate(key string, level model.LedgerLevel) *node {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n, ok := l.nodes[key]; ok {
		return n
	}
	n := &node{key: key, level: level}
	l.nodes[key] = n
	return n
}

func lock(nodes []*node) {
	for _, n := range nodes {
		n.mu.Lock()
	}
}

func unlock(nodes []*node) {
	for i := len(nodes) - 1; i >= 0; i-- {
		nodes[i].mu.Unlock()
	}
}
