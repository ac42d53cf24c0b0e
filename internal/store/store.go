// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package store is the "opaque key/value store of timetables and task
// records": a go-memdb instance holding one table of
// per-robot Timetable documents, one of the allocator's shadow
// timetables, one of live Task records, and one archive table for
// completed/removed tasks. Writers never overlap across logical owners,
// so memdb's transactional isolation is all the locking needed.
package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/timetable"
)

const (
	tableTimetable       = "timetable"
	tableShadowTimetable = "shadow_timetable"
	tableTask            = "task"
	tableArchive         = "archive"
)

// ArchiveRow is one archived task row: the task as it stood at
// archival time, plus the timetable snapshot it was removed from.
type ArchiveRow struct {
	TaskID      string
	ArchivedAt  time.Time
	Task        *structs.Task
	RobotID     string
	TimetableAt timetable.Dict
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableTimetable: {
				Name: tableTimetable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "RobotID"},
					},
				},
			},
			tableShadowTimetable: {
				Name: tableShadowTimetable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "RobotID"},
					},
				},
			},
			tableTask: {
				Name: tableTask,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "TaskID"},
					},
					"status": {
						Name:    "status",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "Status"},
					},
				},
			},
			tableArchive: {
				Name: tableArchive,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "TaskID"},
					},
				},
			},
		},
	}
}

// Store wraps a go-memdb instance with the typed accessors the
// allocator and robot processes need. It is safe for concurrent use;
// memdb's own MVCC txn model serializes writers.
type Store struct {
	db *memdb.MemDB
}

// New returns an empty Store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("store: new memdb: %w", err)
	}
	return &Store{db: db}, nil
}

// PutTimetable upserts a robot's timetable snapshot.
func (s *Store) PutTimetable(d timetable.Dict) error {
	return s.put(tableTimetable, d)
}

// GetTimetable returns robotID's stored timetable snapshot, or false if
// none is stored.
func (s *Store) GetTimetable(robotID string) (timetable.Dict, bool, error) {
	v, ok, err := s.first(tableTimetable, "id", robotID)
	if !ok || err != nil {
		return timetable.Dict{}, ok, err
	}
	return v.(timetable.Dict), true, nil
}

// PutShadowTimetable upserts the allocator's shadow copy of a robot's
// timetable (the snapshot adopted from a winning bid).
func (s *Store) PutShadowTimetable(d timetable.Dict) error {
	return s.put(tableShadowTimetable, d)
}

// GetShadowTimetable returns the allocator's stored shadow snapshot for
// robotID, or false if none is stored.
func (s *Store) GetShadowTimetable(robotID string) (timetable.Dict, bool, error) {
	v, ok, err := s.first(tableShadowTimetable, "id", robotID)
	if !ok || err != nil {
		return timetable.Dict{}, ok, err
	}
	return v.(timetable.Dict), true, nil
}

// PutTask upserts a live task record.
func (s *Store) PutTask(task *structs.Task) error {
	return s.put(tableTask, task)
}

// GetTask returns the live task record for taskID, or false if none is
// stored (it may have been archived).
func (s *Store) GetTask(taskID string) (*structs.Task, bool, error) {
	v, ok, err := s.first(tableTask, "id", taskID)
	if !ok || err != nil {
		return nil, ok, err
	}
	return v.(*structs.Task), true, nil
}

// TasksByStatus returns every live task in the given status, task_id
// order, never in map-iteration order.
func (s *Store) TasksByStatus(status structs.TaskStatus) ([]*structs.Task, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableTask, "status", string(status))
	if err != nil {
		return nil, fmt.Errorf("store: query tasks by status: %w", err)
	}
	var tasks []*structs.Task
	for raw := it.Next(); raw != nil; raw = it.Next() {
		tasks = append(tasks, raw.(*structs.Task))
	}
	sortTasksByID(tasks)
	return tasks, nil
}

// Archive moves task out of the live task table into the archive table,
// written whenever a task reaches a terminal
// status so the fleet termination check can be answered without
// scanning live state.
func (s *Store) Archive(task *structs.Task, robotID string, at time.Time, tt timetable.Dict) error {
	if !task.Status.Terminal() {
		return fmt.Errorf("store: task %s is not terminal (status=%s)", task.TaskID, task.Status)
	}
	txn := s.db.Txn(true)
	if err := txn.Delete(tableTask, task); err != nil && err != memdb.ErrNotFound {
		txn.Abort()
		return fmt.Errorf("store: remove live task %s: %w", task.TaskID, err)
	}
	row := &ArchiveRow{TaskID: task.TaskID, ArchivedAt: at, Task: task.Clone(), RobotID: robotID, TimetableAt: tt}
	if err := txn.Insert(tableArchive, row); err != nil {
		txn.Abort()
		return fmt.Errorf("store: insert archive row %s: %w", task.TaskID, err)
	}
	txn.Commit()
	return nil
}

// GetArchived returns the archive row for taskID, or false if it was
// never archived.
func (s *Store) GetArchived(taskID string) (*ArchiveRow, bool, error) {
	v, ok, err := s.first(tableArchive, "id", taskID)
	if !ok || err != nil {
		return nil, ok, err
	}
	return v.(*ArchiveRow), true, nil
}

// TerminationProgress reports the fleet termination check inputs:
// archived-task count and live-task count, without scanning in-memory
// aggregator state.
func (s *Store) TerminationProgress() (archived, live int, err error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	archivedIt, err := txn.Get(tableArchive, "id")
	if err != nil {
		return 0, 0, fmt.Errorf("store: scan archive: %w", err)
	}
	for raw := archivedIt.Next(); raw != nil; raw = archivedIt.Next() {
		archived++
	}

	liveIt, err := txn.Get(tableTask, "id")
	if err != nil {
		return 0, 0, fmt.Errorf("store: scan live tasks: %w", err)
	}
	for raw := liveIt.Next(); raw != nil; raw = liveIt.Next() {
		live++
	}
	return archived, live, nil
}

func (s *Store) put(table string, obj interface{}) error {
	txn := s.db.Txn(true)
	if err := txn.Insert(table, obj); err != nil {
		txn.Abort()
		return fmt.Errorf("store: insert into %s: %w", table, err)
	}
	txn.Commit()
	return nil
}

func (s *Store) first(table, index, value string) (interface{}, bool, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(table, index, value)
	if err != nil {
		return nil, false, fmt.Errorf("store: lookup %s/%s=%s: %w", table, index, value, err)
	}
	return raw, raw != nil, nil
}

func sortTasksByID(tasks []*structs.Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskID < tasks[j].TaskID })
}
