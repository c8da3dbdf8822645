// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package household

import "time"

// Task statuses as reported by the gateway.
const (
	StatusPending   = "Pending"
	StatusCompleted = "Completed"
	StatusApproved  = "Approved"
	StatusRejected  = "Rejected"
)

// Household is the family unit that scopes members and tasks.
type Household struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Member is a household member and their point total.
type Member struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	PointsTotal int    `json:"pointsTotal"`
}

// Task is a chore assigned to a member.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	Points      int        `json:"points"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// withStatus returns a copy of tasks with task id set to status, and whether
// the task was present.
func withStatus(tasks []Task, id, status string) ([]Task, bool) {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	for i := range out {
		if out[i].ID == id {
			out[i].Status = status
			return out, true
		}
	}
	return out, false
}

// replaceTask returns a copy of tasks with t in place of the task with the
// same id.
func replaceTask(tasks []Task, t Task) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	for i := range out {
		if out[i].ID == t.ID {
			out[i] = t
			break
		}
	}
	return out
}
