package services

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"gymStreakAPI/internal/persistence"
	"gymStreakAPI/internal/types/streak"
)

// HistoryRecorder keeps the ledger of streak runs. Entries are written inside
// the tracker's unit so a run opens or closes exactly when the count changes.
type HistoryRecorder struct {
	repo  persistence.StreakRepository
	clock clock.Clock
}

func NewHistoryRecorder(repo persistence.StreakRepository, clk clock.Clock) *HistoryRecorder {
	return &HistoryRecorder{repo: repo, clock: clk}
}

func (h *HistoryRecorder) Plan(d streak.Delta) streak.HistoryOp {
	return streak.PlanHistory(d)
}

// Apply records the ledger effect of d. day is the attendance day that caused
// the transition and becomes the start or end of the run.
func (h *HistoryRecorder) Apply(ctx context.Context, tx persistence.StreakTx, s streak.Streak, d streak.Delta, day time.Time) error {
	op := h.Plan(d)
	if op == streak.HistoryNone {
		return nil
	}

	open, err := tx.OpenHistory(ctx)
	if err != nil {
		return err
	}

	switch op {
	case streak.HistoryOpen:
		if open != nil {
			return nil
		}
		return tx.InsertHistory(ctx, streak.OpenEntry(s, day, h.clock.Now()))
	case streak.HistoryClose:
		if open == nil {
			return nil
		}
		return tx.UpdateHistory(ctx, open.Close(day, streak.EndReasonReset))
	}
	return nil
}

// History returns the athlete's runs, newest first.
func (h *HistoryRecorder) History(ctx context.Context, athleteID string) ([]streak.HistoryEntry, error) {
	entries, err := h.repo.History(ctx, athleteID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []streak.HistoryEntry{}
	}
	return entries, nil
}

// CloseOpen ends the athlete's open run today with reason.
func (h *HistoryRecorder) CloseOpen(ctx context.Context, athleteID, reason string) (streak.HistoryEntry, error) {
	if athleteID == "" {
		return streak.HistoryEntry{}, errors.NotValidf("empty athlete id")
	}
	if reason == "" {
		reason = streak.EndReasonClosed
	}

	var closed streak.HistoryEntry
	err := h.repo.WithAthlete(ctx, athleteID, func(tx persistence.StreakTx) error {
		open, err := tx.OpenHistory(ctx)
		if err != nil {
			return err
		}
		if open == nil {
			return errors.NotFoundf("open streak run for %s", athleteID)
		}
		closed = open.Close(h.clock.Now(), reason)
		return tx.UpdateHistory(ctx, closed)
	})
	if err != nil {
		return streak.HistoryEntry{}, err
	}
	return closed, nil
}
