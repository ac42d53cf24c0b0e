// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package ccu

import (
	"fmt"
	"os"

	uuid "github.com/hashicorp/go-uuid"
	"gopkg.in/yaml.v3"

	"github.com/ropod-project/mrta/internal/planner"
	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/timetable"
)

// taskFile is the YAML shape `allocator run -tasks` reads: a task
// dataset loaded into the store before allocation is triggered.
type taskFile struct {
	Tasks []taskSpec `yaml:"tasks"`
}

type taskSpec struct {
	TaskID           string  `yaml:"task_id"`
	PickupLocation   string  `yaml:"pickup_location"`
	DeliveryLocation string  `yaml:"delivery_location"`
	EarliestStart    float64 `yaml:"earliest_start"`
	LatestStart      float64 `yaml:"latest_start"`

	Constraints map[string]struct {
		Mean     float64 `yaml:"mean"`
		Variance float64 `yaml:"variance"`
	} `yaml:"constraints"`
}

// ReadTasksFile parses a task dataset file into UNALLOCATED task records.
// A task without a task_id gets a generated one; missing duration
// constraints fall back to the planner sentinel so an un-annotated
// dataset still yields a solvable STN.
func ReadTasksFile(path string) ([]*structs.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ccu: read tasks file %s: %w", path, err)
	}
	var tf taskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("ccu: parse tasks file %s: %w", path, err)
	}

	tasks := make([]*structs.Task, 0, len(tf.Tasks))
	for _, spec := range tf.Tasks {
		task, err := spec.toTask()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (s taskSpec) toTask() (*structs.Task, error) {
	id := s.TaskID
	if id == "" {
		generated, err := uuid.GenerateUUID()
		if err != nil {
			return nil, err
		}
		id = generated
	}

	constraints := map[string]structs.TemporalConstraint{
		timetable.ConstraintStartPickup:    {Mean: planner.Sentinel.Mean, Variance: planner.Sentinel.Variance},
		timetable.ConstraintPickupDelivery: {Mean: planner.Sentinel.Mean, Variance: planner.Sentinel.Variance},
	}
	for name, c := range s.Constraints {
		constraints[name] = structs.TemporalConstraint{Mean: c.Mean, Variance: c.Variance}
	}

	actions := make([]*structs.Action, 0, 2)
	for _, name := range []string{timetable.ConstraintStartPickup, timetable.ConstraintPickupDelivery} {
		actionID, err := uuid.GenerateUUID()
		if err != nil {
			return nil, err
		}
		actions = append(actions, &structs.Action{ActionID: actionID, Name: name, Status: structs.ActionPlanned})
	}

	return &structs.Task{
		TaskID:           id,
		Status:           structs.StatusUnallocated,
		PickupLocation:   s.PickupLocation,
		DeliveryLocation: s.DeliveryLocation,
		EarliestStartSec: s.EarliestStart,
		LatestStartSec:   s.LatestStart,
		Constraints:      constraints,
		Actions:          actions,
	}, nil
}
