// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package auction implements the auction Round state machine and the
// Auctioneer that drives it: announce, accumulate bids, elect a single
// winner per round, commit.
package auction

import (
	"errors"
	"sort"
	"time"

	"github.com/hashicorp/go-set/v3"

	"github.com/ropod-project/mrta/internal/structs"
)

// State is a Round's lifecycle state:
// IDLE -> OPEN -> CLOSED -> (ELECTED -> FINISHED | FINISHED[NoAllocation]).
type State string

const (
	StateIdle     State = "IDLE"
	StateOpen     State = "OPEN"
	StateClosed   State = "CLOSED"
	StateElected  State = "ELECTED"
	StateFinished State = "FINISHED"
)

// ErrNoAllocation is raised when a round closes with no bid worth
// electing; the announced tasks stay unallocated for the next round.
var ErrNoAllocation = errors.New("auction: no allocation")

// Round is exactly one live auction round. RetryOf names the round this
// one was re-announced from after an alternative-timeslot soft-constraint
// relaxation; a round that is already a retry never retries again.
type Round struct {
	ID                   string
	RoundTime            time.Duration
	AlternativeTimeslots bool
	RetryOf              string

	OpenTime    time.Time
	ClosureTime time.Time
	State       State

	ReceivedBids   map[string]structs.Bid
	ReceivedNoBids map[string]int
	respondedBids  *set.Set[string] // robot_ids that placed at least one bid, any task
}

// NewRound constructs an IDLE round.
func NewRound(id string, roundTime time.Duration, alternativeTimeslots bool, retryOf string) *Round {
	return &Round{
		ID:                   id,
		RoundTime:            roundTime,
		AlternativeTimeslots: alternativeTimeslots,
		RetryOf:              retryOf,
		State:                StateIdle,
		ReceivedBids:         make(map[string]structs.Bid),
		ReceivedNoBids:       make(map[string]int),
		respondedBids:        set.New[string](0),
	}
}

// Start opens the round: OPEN, with a wall-clock closure_time computed
// from RoundTime.
func (r *Round) Start(now time.Time) {
	r.OpenTime = now
	r.ClosureTime = now.Add(r.RoundTime)
	r.State = StateOpen
}

// ProcessBid folds one incoming bid in: a bid for task T is kept only if
// it strictly improves the current best for T under the BetterBid
// ordering. Bids arriving while not OPEN are dropped (the
// caller is expected to have checked state, but this is idempotent-safe
// to call regardless).
func (r *Round) ProcessBid(bid structs.Bid) {
	if r.State != StateOpen {
		return
	}
	r.respondedBids.Insert(bid.RobotID)

	incumbent, ok := r.ReceivedBids[bid.TaskID]
	if !ok || structs.BetterBid(bid, incumbent) {
		r.ReceivedBids[bid.TaskID] = bid
	}
}

// ProcessNoBid increments T's no-bid counter.
func (r *Round) ProcessNoBid(nb structs.NoBidPayload) {
	if r.State != StateOpen {
		return
	}
	r.respondedBids.Insert(nb.RobotID)
	r.ReceivedNoBids[nb.TaskID]++
}

// TimeToClose reports whether wall-clock now has reached ClosureTime.
// Calling it when the round is already CLOSED or beyond is a no-op that
// still reports true, so callers can poll unconditionally.
func (r *Round) TimeToClose(now time.Time) bool {
	return !now.Before(r.ClosureTime)
}

// Close transitions OPEN -> CLOSED. Bids processed after this point are
// dropped by ProcessBid's state check.
func (r *Round) Close() {
	r.State = StateClosed
}

// TasksNeedingSoftConstraints returns the task_ids that received at least
// one no-bid and no bid at all, the trigger for soft-constraint
// relaxation. Sorted so the retry announcement is deterministic.
func (r *Round) TasksNeedingSoftConstraints() []string {
	var out []string
	for taskID := range r.ReceivedNoBids {
		if _, hasBid := r.ReceivedBids[taskID]; !hasBid {
			out = append(out, taskID)
		}
	}
	sort.Strings(out)
	return out
}

// NeedsAlternativeTimeslotRetry reports whether this round should be
// re-announced with soft constraints instead of electing a winner now:
// alternative_timeslots is on, at least one task got no bids at all, at
// least one bidder responded in this round, and this round is not itself
// already a retry.
func (r *Round) NeedsAlternativeTimeslotRetry() bool {
	if !r.AlternativeTimeslots || r.RetryOf != "" {
		return false
	}
	if r.respondedBids.Size() == 0 {
		return false
	}
	return len(r.TasksNeedingSoftConstraints()) > 0
}

// ElectWinner picks the overall smallest bid
// across every task entry of ReceivedBids, using the same BetterBid
// ordering a bidder uses to pick its own best task. Returns
// ErrNoAllocation if no bid was ever received. Transitions to ELECTED.
func (r *Round) ElectWinner() (structs.Bid, error) {
	var winner *structs.Bid
	// Iterate in task_id order for determinism even though the result is
	// the same regardless of order (BetterBid is a total order here).
	ids := make([]string, 0, len(r.ReceivedBids))
	for id := range r.ReceivedBids {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		bid := r.ReceivedBids[id]
		if winner == nil || structs.BetterBid(bid, *winner) {
			b := bid
			winner = &b
		}
	}

	if winner == nil {
		r.State = StateFinished
		return structs.Bid{}, ErrNoAllocation
	}
	r.State = StateElected
	return *winner, nil
}

// Finish transitions ELECTED -> FINISHED after a successful commit.
func (r *Round) Finish() {
	r.State = StateFinished
}
