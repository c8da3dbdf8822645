// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package household

import "github.com/tomtom215/choresync/internal/querycache"

// Cache key roots.
const (
	segTasks     = "tasks"
	segMember    = "member"
	segHousehold = "household"
)

// TasksKey is the task list. Invalidating it also covers every key below it.
func TasksKey() querycache.Key { return querycache.K(segTasks) }

// MembersKey is the generic member key holding the member list.
func MembersKey() querycache.Key { return querycache.K(segMember) }

// MemberKey is one member's profile and point total.
func MemberKey(memberID string) querycache.Key { return querycache.K(segMember, memberID) }

// HouseholdKey is the household record.
func HouseholdKey(householdID string) querycache.Key {
	return querycache.K(segHousehold, householdID)
}
