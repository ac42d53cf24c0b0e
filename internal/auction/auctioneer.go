// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package auction

import (
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"
	uuid "github.com/hashicorp/go-uuid"

	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/timetable"
)

// ErrRoundStillOpen is returned by CloseRound when called before the
// round's wall-clock deadline.
var ErrRoundStillOpen = errors.New("auction: round still open")

// ErrNoCurrentRound is returned by operations that require an open round
// when none has been started.
var ErrNoCurrentRound = errors.New("auction: no current round")

// CloseResult reports what happened when a round closed: a retry
// (soft-constraint relaxation), a NoAllocation, or a committed winner
// (possibly carrying the non-fatal alternative-timeslot signal).
type CloseResult struct {
	Retry      bool
	RetryTasks []string

	NoAllocation bool

	Winner               structs.Bid
	AlternativeTimeSlot  bool
	ScheduleDGraphUpdate bool
}

// Auctioneer drives the round lifecycle and commits winning bids to the
// allocator's shadow timetables. It processes exactly
// one allocation per round (single-award policy); remaining announced
// tasks are the caller's responsibility to carry into the next round.
type Auctioneer struct {
	RoundTime            time.Duration
	AlternativeTimeslots bool
	DispatchWindow       int // n_tasks_queue insertion points get an immediate graph push

	Shadows     *timetable.Manager
	Allocations map[string]string // task_id -> robot_id

	Current *Round

	logger hclog.Logger
}

// NewAuctioneer constructs an Auctioneer with no round open yet.
func NewAuctioneer(roundTime time.Duration, alternativeTimeslots bool, dispatchWindow int, shadows *timetable.Manager, logger hclog.Logger) *Auctioneer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Auctioneer{
		RoundTime:            roundTime,
		AlternativeTimeslots: alternativeTimeslots,
		DispatchWindow:       dispatchWindow,
		Shadows:              shadows,
		Allocations:          make(map[string]string),
		logger:               logger.Named("auctioneer"),
	}
}

// OpenRound starts a new round and returns the TaskAnnouncement payload to
// broadcast. retryOf is the round ID being retried after a soft-constraint
// relaxation, or "" for a fresh round.
func (a *Auctioneer) OpenRound(now time.Time, zeroTimepoint time.Time, tasks []*structs.Task, retryOf string) (structs.TaskAnnouncementPayload, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return structs.TaskAnnouncementPayload{}, err
	}
	r := NewRound(id, a.RoundTime, a.AlternativeTimeslots, retryOf)
	r.Start(now)
	a.Current = r
	a.logger.Debug("round opened", "round_id", id, "retry_of", retryOf, "tasks", len(tasks))

	return structs.TaskAnnouncementPayload{
		RoundID:       id,
		ZeroTimepoint: zeroTimepoint,
		Tasks:         tasks,
	}, nil
}

// HandleBid feeds an incoming BID into the current round, if one is open
// and the bid names it.
func (a *Auctioneer) HandleBid(bid structs.Bid) {
	if a.Current == nil || bid.RoundID != a.Current.ID {
		a.logger.Warn("bid for unknown or stale round dropped", "round_id", bid.RoundID)
		return
	}
	a.Current.ProcessBid(bid)
}

// HandleNoBid feeds an incoming NO-BID into the current round.
func (a *Auctioneer) HandleNoBid(nb structs.NoBidPayload) {
	if a.Current == nil || nb.RoundID != a.Current.ID {
		return
	}
	a.Current.ProcessNoBid(nb)
}

// CloseRound closes the current round if its deadline has passed and
// applies the close-time decision tree. On a committed
// winner it atomically adopts the bid's STN snapshots into the winning
// robot's shadow timetable and records the allocation.
func (a *Auctioneer) CloseRound(now time.Time) (CloseResult, error) {
	if a.Current == nil {
		return CloseResult{}, ErrNoCurrentRound
	}
	if !a.Current.TimeToClose(now) {
		return CloseResult{}, ErrRoundStillOpen
	}
	a.Current.Close()

	if a.Current.NeedsAlternativeTimeslotRetry() {
		tasks := a.Current.TasksNeedingSoftConstraints()
		a.logger.Debug("retrying round with soft constraints", "round_id", a.Current.ID, "tasks", tasks)
		a.Current.Finish()
		return CloseResult{Retry: true, RetryTasks: tasks}, nil
	}

	winner, err := a.Current.ElectWinner()
	if errors.Is(err, ErrNoAllocation) {
		a.logger.Warn("no allocation made in round", "round_id", a.Current.ID)
		return CloseResult{NoAllocation: true}, nil
	}

	shadow := a.Shadows.Get(winner.RobotID)
	if shadow != nil {
		shadow.STN = winner.STN
		shadow.Dispatchable = winner.Dispatchable
	}
	a.Allocations[winner.TaskID] = winner.RobotID
	a.Current.Finish()

	return CloseResult{
		Winner:               winner,
		AlternativeTimeSlot:  winner.AlternativeStartTime != nil,
		ScheduleDGraphUpdate: winner.InsertionPoint <= a.DispatchWindow,
	}, nil
}

// TaskContractFor builds the TASK-CONTRACT payload for a committed
// winner: (task_id, robot_id, round_id).
func TaskContractFor(winner structs.Bid) structs.TaskContractPayload {
	return structs.TaskContractPayload{TaskID: winner.TaskID, RobotID: winner.RobotID, RoundID: winner.RoundID}
}
