// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

// Package household is the screen-facing API of the sync core. Reads go
// through the query cache, writes through the optimistic coordinator.
//
// Cache keys:
//
//	["household", id]   household record
//	["tasks"]           task list
//	["member"]          member list
//	["member", id]      one member
package household

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tomtom215/choresync/internal/optimistic"
	"github.com/tomtom215/choresync/internal/querycache"
)

// API is the part of the HTTP client the repository uses.
type API interface {
	Get(ctx context.Context, path string, out any) error
	Put(ctx context.Context, path string, body, out any) error
}

// Repository reads and mutates household data.
type Repository struct {
	api   API
	cache *querycache.Cache
	coord *optimistic.Coordinator
}

// NewRepository creates a repository.
func NewRepository(api API, cache *querycache.Cache, coord *optimistic.Coordinator) *Repository {
	return &Repository{api: api, cache: cache, coord: coord}
}

// Household returns the household record.
func (r *Repository) Household(ctx context.Context, id string) (Household, error) {
	return querycache.FetchAs(ctx, r.cache, HouseholdKey(id), func(ctx context.Context) (Household, error) {
		var h Household
		err := r.api.Get(ctx, "/api/households/"+url.PathEscape(id), &h)
		return h, err
	})
}

// Tasks returns the task list.
func (r *Repository) Tasks(ctx context.Context) ([]Task, error) {
	return querycache.FetchAs(ctx, r.cache, TasksKey(), func(ctx context.Context) ([]Task, error) {
		var tasks []Task
		err := r.api.Get(ctx, "/api/tasks", &tasks)
		return tasks, err
	})
}

// Members returns the member list.
func (r *Repository) Members(ctx context.Context) ([]Member, error) {
	return querycache.FetchAs(ctx, r.cache, MembersKey(), func(ctx context.Context) ([]Member, error) {
		var members []Member
		err := r.api.Get(ctx, "/api/members", &members)
		return members, err
	})
}

// Member returns one member.
func (r *Repository) Member(ctx context.Context, id string) (Member, error) {
	return querycache.FetchAs(ctx, r.cache, MemberKey(id), func(ctx context.Context) (Member, error) {
		var m Member
		err := r.api.Get(ctx, "/api/members/"+url.PathEscape(id), &m)
		return m, err
	})
}

// ApproveTask approves a completed task.
func (r *Repository) ApproveTask(ctx context.Context, id string) (Task, error) {
	return r.transition(ctx, id, "approve", StatusApproved, "Task approved")
}

// CompleteTask marks a task as done by its assignee.
func (r *Repository) CompleteTask(ctx context.Context, id string) (Task, error) {
	return r.transition(ctx, id, "complete", StatusCompleted, "Task completed")
}

// RejectTask sends a completed task back.
func (r *Repository) RejectTask(ctx context.Context, id string) (Task, error) {
	return r.transition(ctx, id, "reject", StatusRejected, "Task rejected")
}

// transition sets the task's status in the cached list, calls
// PUT /api/tasks/{id}/{action} and folds the returned task back in.
func (r *Repository) transition(ctx context.Context, id, action, status, successMsg string) (Task, error) {
	key := TasksKey()
	res, err := r.coord.Mutate(ctx, optimistic.Mutation{
		Keys: []querycache.Key{key},
		Update: func(c *querycache.Cache) {
			v, ok := c.GetData(key)
			if !ok {
				return
			}
			tasks, _ := v.([]Task)
			if updated, found := withStatus(tasks, id, status); found {
				c.SetData(key, updated)
			}
		},
		Call: func(ctx context.Context) (any, error) {
			var t Task
			path := fmt.Sprintf("/api/tasks/%s/%s", url.PathEscape(id), action)
			if err := r.api.Put(ctx, path, nil, &t); err != nil {
				return nil, err
			}
			return t, nil
		},
		Merge: func(c *querycache.Cache, result any) {
			t, ok := result.(Task)
			if !ok || t.ID == "" {
				return
			}
			v, ok := c.GetData(key)
			if !ok {
				return
			}
			tasks, _ := v.([]Task)
			c.SetData(key, replaceTask(tasks, t))
		},
		SuccessMessage: successMsg,
	})
	if err != nil {
		return Task{}, err
	}
	t, _ := res.(Task)
	return t, nil
}
