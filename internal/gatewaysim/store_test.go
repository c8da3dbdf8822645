// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package gatewaysim

import (
	"errors"
	"testing"

	"github.com/tomtom215/choresync/internal/household"
)

func TestStore_Seed(t *testing.T) {
	t.Parallel()
	s := NewStore("H1")

	if _, err := s.Household("H1"); err != nil {
		t.Errorf("Household(H1) error = %v", err)
	}
	if _, err := s.Household("H2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Household(H2) error = %v, want ErrNotFound", err)
	}

	tasks := s.Tasks()
	if len(tasks) != 3 || tasks[0].ID != "t1" || tasks[2].ID != "t3" {
		t.Errorf("Tasks() = %+v, want t1..t3 in creation order", tasks)
	}
	members := s.Members()
	if len(members) != 3 || members[0].ID != "m1" || members[2].ID != "p1" {
		t.Errorf("Members() = %+v, want sorted by id", members)
	}
}

func TestStore_Transition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		task       string
		action     string
		wantStatus string
		wantErr    error
		wantPoints int
	}{
		{name: "approve completed", task: "t1", action: ActionApprove, wantStatus: household.StatusApproved, wantPoints: 5},
		{name: "approve pending", task: "t2", action: ActionApprove, wantErr: ErrInvalidState},
		{name: "complete pending", task: "t2", action: ActionComplete, wantStatus: household.StatusCompleted},
		{name: "reject completed", task: "t1", action: ActionReject, wantStatus: household.StatusRejected},
		{name: "reject pending", task: "t3", action: ActionReject, wantErr: ErrInvalidState},
		{name: "unknown task", task: "nope", action: ActionApprove, wantErr: ErrNotFound},
		{name: "unknown action", task: "t1", action: "archive", wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewStore("H1")

			task, update, err := s.Transition(tt.task, tt.action)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Transition() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Transition() error = %v", err)
			}
			if task.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", task.Status, tt.wantStatus)
			}
			if tt.wantPoints > 0 {
				if update == nil || update.MemberID != task.AssigneeID || update.PointsTotal != tt.wantPoints {
					t.Errorf("member update = %+v, want %s with %d", update, task.AssigneeID, tt.wantPoints)
				}
				m, _ := s.Member(task.AssigneeID)
				if m.PointsTotal != tt.wantPoints {
					t.Errorf("stored points = %d, want %d", m.PointsTotal, tt.wantPoints)
				}
			} else if update != nil {
				t.Errorf("unexpected member update %+v", update)
			}
		})
	}
}

func TestStore_CompleteSetsTimestamp(t *testing.T) {
	t.Parallel()
	s := NewStore("H1")

	task, _, err := s.Transition("t2", ActionComplete)
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if task.CompletedAt == nil {
		t.Error("CompletedAt not set on completion")
	}

	if _, _, err := s.Transition("t2", ActionReject); err != nil {
		t.Fatalf("reject: %v", err)
	}
	task, _, err = s.Transition("t2", ActionComplete)
	if err != nil {
		t.Fatalf("complete after reject: %v", err)
	}
	if task.Status != household.StatusCompleted {
		t.Errorf("status = %q after resubmitting", task.Status)
	}
}
