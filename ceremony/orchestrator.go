// Package ceremony sequences the per-poll key ceremony: the Setup step that
// generates public domain parameters, and the KeyGen step that produces the
// master verification key and distributes per-authority key shares. Each
// step runs at most once per poll; the store's uniqueness constraints are
// the authoritative guard against concurrent duplicates.
package ceremony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tiacvote/poll-ceremony-backend/interfaces"
)

// DefaultSecurityLevel is the pairing security parameter handed to the
// engine's Setup operation.
const DefaultSecurityLevel = 256

// Orchestrator drives the NoSetup -> SetupDone -> KeyGenDone state machine
// for polls.
type Orchestrator struct {
	store         interfaces.Store
	engine        interfaces.CryptoEngine
	securityLevel int
	log           *slog.Logger

	now func() time.Time
}

// NewOrchestrator creates a ceremony orchestrator. A non-positive
// securityLevel falls back to DefaultSecurityLevel.
func NewOrchestrator(store interfaces.Store, engine interfaces.CryptoEngine, securityLevel int, log *slog.Logger) *Orchestrator {
	if securityLevel <= 0 {
		securityLevel = DefaultSecurityLevel
	}
	return &Orchestrator{
		store:         store,
		engine:        engine,
		securityLevel: securityLevel,
		log:           log,
		now:           time.Now,
	}
}

// RunSetup executes the Setup step for a poll: it calls the engine,
// persists exactly one PollSetup record, and returns it.
//
// Returns interfaces.ErrNotFound when the poll does not exist and
// interfaces.ErrAlreadyDone when Setup was already completed. The existence
// pre-check is a fast path; the store's uniqueness constraint decides races.
func (o *Orchestrator) RunSetup(ctx context.Context, pollID, adminID int64) (interfaces.PollSetup, error) {
	if _, err := o.store.PollByID(ctx, pollID); err != nil {
		return interfaces.PollSetup{}, err
	}

	if _, err := o.store.PollSetup(ctx, pollID); err == nil {
		return interfaces.PollSetup{}, interfaces.ErrAlreadyDone
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return interfaces.PollSetup{}, fmt.Errorf("could not check setup state: %w", err)
	}

	o.log.Info("executing cryptographic setup", "poll_id", pollID, "security_level", o.securityLevel)
	params, err := o.engine.Setup(ctx, o.securityLevel)
	if err != nil {
		return interfaces.PollSetup{}, fmt.Errorf("setup failed: %w", err)
	}

	setup := interfaces.PollSetup{
		PollID:      pollID,
		Params:      params,
		SetupBy:     adminID,
		CompletedAt: o.now(),
	}
	if err := o.store.InsertPollSetup(ctx, setup); err != nil {
		return interfaces.PollSetup{}, err
	}

	o.log.Info("setup completed", "poll_id", pollID)
	return setup, nil
}

// RunKeyGen executes the KeyGen step for a poll: it computes the threshold
// from the enrolled authority count, calls the engine, persists exactly one
// PollMvk record, assigns share[i] to the i-th authority in ascending-id
// order, and transitions the poll to active.
//
// Guard failures are client errors: interfaces.ErrSetupRequired when Setup
// has not run, interfaces.ErrAlreadyDone when KeyGen already ran, and
// interfaces.ErrNoAuthorities for an empty roster. A share count differing
// from the authority count aborts the ceremony before anything is
// persisted.
func (o *Orchestrator) RunKeyGen(ctx context.Context, pollID, adminID int64) (interfaces.PollMvk, error) {
	setup, err := o.store.PollSetup(ctx, pollID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return interfaces.PollMvk{}, interfaces.ErrSetupRequired
	} else if err != nil {
		return interfaces.PollMvk{}, fmt.Errorf("could not fetch setup: %w", err)
	}

	if _, err := o.store.PollMvk(ctx, pollID); err == nil {
		return interfaces.PollMvk{}, interfaces.ErrAlreadyDone
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return interfaces.PollMvk{}, fmt.Errorf("could not check keygen state: %w", err)
	}

	authorityIDs, err := o.store.PollAuthorityIDs(ctx, pollID)
	if err != nil {
		return interfaces.PollMvk{}, fmt.Errorf("could not fetch authority roster: %w", err)
	}
	if len(authorityIDs) == 0 {
		return interfaces.PollMvk{}, interfaces.ErrNoAuthorities
	}

	threshold := Threshold(len(authorityIDs))

	o.log.Info("executing keygen",
		"poll_id", pollID,
		"authority_count", len(authorityIDs),
		"threshold", threshold,
	)

	result, err := o.engine.KeyGen(ctx, setup.Params, threshold, len(authorityIDs))
	if err != nil {
		return interfaces.PollMvk{}, fmt.Errorf("keygen failed: %w", err)
	}

	// Fail atomically before persisting anything rather than leaving some
	// authorities without shares.
	if len(result.Shares) != len(authorityIDs) {
		return interfaces.PollMvk{}, fmt.Errorf("%w: engine returned %d shares for %d authorities",
			interfaces.ErrShareCountMismatch, len(result.Shares), len(authorityIDs))
	}

	mvk := interfaces.PollMvk{
		PollID:           pollID,
		MVK:              result.MVK,
		Threshold:        threshold,
		TotalAuthorities: len(authorityIDs),
		GeneratedBy:      adminID,
		GeneratedAt:      o.now(),
	}
	if err := o.store.InsertPollMvk(ctx, mvk); err != nil {
		return interfaces.PollMvk{}, err
	}

	// Deterministic share distribution: authorityIDs is ascending, so
	// share[i] always reaches the same authority regardless of enrollment
	// order.
	receivedAt := o.now()
	for i, authorityID := range authorityIDs {
		if err := o.store.SetAuthorityShare(ctx, pollID, authorityID, result.Shares[i], receivedAt); err != nil {
			return interfaces.PollMvk{}, fmt.Errorf("could not store share for authority %d: %w", authorityID, err)
		}
	}

	if err := o.store.SetPollStatus(ctx, pollID, interfaces.PollActive); err != nil {
		return interfaces.PollMvk{}, fmt.Errorf("could not activate poll: %w", err)
	}

	o.log.Info("keygen completed", "poll_id", pollID, "threshold", threshold, "total_authorities", len(authorityIDs))
	return mvk, nil
}
