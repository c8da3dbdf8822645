// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package gatewaysim

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/choresync/internal/events"
	"github.com/tomtom215/choresync/internal/household"
)

// Store errors, mapped to HTTP statuses by the handlers.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid task state")
)

// Task actions.
const (
	ActionComplete = "complete"
	ActionApprove  = "approve"
	ActionReject   = "reject"
)

// Store is the in-memory state of one simulated household.
type Store struct {
	mu        sync.RWMutex
	household household.Household
	members   map[string]*household.Member
	tasks     map[string]*household.Task
	order     []string
	now       func() time.Time
}

// NewStore creates a store seeded with a small household.
func NewStore(householdID string) *Store {
	s := &Store{
		household: household.Household{ID: householdID, Name: "Demo Household", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		members:   make(map[string]*household.Member),
		tasks:     make(map[string]*household.Task),
		now:       time.Now,
	}
	s.AddMember(household.Member{ID: "m1", Name: "Alex", Role: "child"})
	s.AddMember(household.Member{ID: "m2", Name: "Sam", Role: "child"})
	s.AddMember(household.Member{ID: "p1", Name: "Jordan", Role: "parent"})
	s.AddTask(household.Task{ID: "t1", Title: "Unload the dishwasher", Status: household.StatusCompleted, Points: 5, AssigneeID: "m1"})
	s.AddTask(household.Task{ID: "t2", Title: "Feed the cat", Status: household.StatusPending, Points: 2, AssigneeID: "m2"})
	s.AddTask(household.Task{ID: "t3", Title: "Tidy bedroom", Status: household.StatusPending, Points: 3, AssigneeID: "m1"})
	return s
}

// AddMember adds or replaces a member.
func (s *Store) AddMember(m household.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[m.ID] = &m
}

// AddTask adds or replaces a task.
func (s *Store) AddTask(t household.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		s.order = append(s.order, t.ID)
	}
	s.tasks[t.ID] = &t
}

// Household returns the household if id matches.
func (s *Store) Household(id string) (household.Household, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id != s.household.ID {
		return household.Household{}, fmt.Errorf("household %s: %w", id, ErrNotFound)
	}
	return s.household, nil
}

// HouseholdID returns the id of the simulated household.
func (s *Store) HouseholdID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.household.ID
}

// Tasks returns all tasks in creation order.
func (s *Store) Tasks() []household.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]household.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.tasks[id])
	}
	return out
}

// Members returns all members sorted by id.
func (s *Store) Members() []household.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]household.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Member returns one member.
func (s *Store) Member(id string) (household.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return household.Member{}, fmt.Errorf("member %s: %w", id, ErrNotFound)
	}
	return *m, nil
}

// Transition applies action to task id. Approving awards the task's points
// to its assignee and returns the member's new total.
func (s *Store) Transition(id, action string) (household.Task, *events.MemberUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return household.Task{}, nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}

	var update *events.MemberUpdate
	switch action {
	case ActionComplete:
		if t.Status != household.StatusPending && t.Status != household.StatusRejected {
			return household.Task{}, nil, fmt.Errorf("task is %s, cannot complete: %w", t.Status, ErrInvalidState)
		}
		now := s.now()
		t.Status = household.StatusCompleted
		t.CompletedAt = &now
	case ActionApprove:
		if t.Status != household.StatusCompleted {
			return household.Task{}, nil, fmt.Errorf("task is %s, cannot approve: %w", t.Status, ErrInvalidState)
		}
		t.Status = household.StatusApproved
		if m, ok := s.members[t.AssigneeID]; ok {
			m.PointsTotal += t.Points
			update = &events.MemberUpdate{MemberID: m.ID, PointsTotal: m.PointsTotal}
		}
	case ActionReject:
		if t.Status != household.StatusCompleted {
			return household.Task{}, nil, fmt.Errorf("task is %s, cannot reject: %w", t.Status, ErrInvalidState)
		}
		t.Status = household.StatusRejected
		t.CompletedAt = nil
	default:
		return household.Task{}, nil, fmt.Errorf("action %q: %w", action, ErrNotFound)
	}
	return *t, update, nil
}
