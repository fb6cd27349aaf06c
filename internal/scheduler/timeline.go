// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package scheduler

import (
	"container/heap"
	"time"
)

// timelineEntry is one source's position in the due-time ordering.
type timelineEntry struct {
	sourceID string
	dueAt    time.Time
	index    int
}

// timeline is a min-heap over next-due times with O(1) lookup by
// source id for reschedules and removals.
type timeline struct {
	entries []*timelineEntry
	byID    map[string]*timelineEntry
}

func newTimeline() *timeline {
	return &timeline{byID: make(map[string]*timelineEntry)}
}

func (t *timeline) Len() int { return len(t.entries) }

func (t *timeline) Less(i, j int) bool {
	return t.entries[i].dueAt.Before(t.entries[j].dueAt)
}

func (t *timeline) Swap(i, j int) {
	t.entries[i], t.entries[j] = t.entries[j], t.entries[i]
	t.entries[i].index = i
	t.entries[j].index = j
}

func (t *timeline) Push(x any) {
	e := x.(*timelineEntry)
	e.index = len(t.entries)
	t.entries = append(t.entries, e)
}

func (t *timeline) Pop() any {
	old := t.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	t.entries = old[:n-1]
	return e
}

// schedule inserts or moves a source to the given due time.
func (t *timeline) schedule(sourceID string, dueAt time.Time) {
	if e, ok := t.byID[sourceID]; ok {
		e.dueAt = dueAt
		heap.Fix(t, e.index)
		return
	}
	e := &timelineEntry{sourceID: sourceID, dueAt: dueAt}
	t.byID[sourceID] = e
	heap.Push(t, e)
}

// remove drops a source from the timeline.
func (t *timeline) remove(sourceID string) {
	e, ok := t.byID[sourceID]
	if !ok {
		return
	}
	delete(t.byID, sourceID)
	heap.Remove(t, e.index)
}

// popDue removes and returns every source due at or before now.
func (t *timeline) popDue(now time.Time) []string {
	var due []string
	for len(t.entries) > 0 && !t.entries[0].dueAt.After(now) {
		e := heap.Pop(t).(*timelineEntry)
		delete(t.byID, e.sourceID)
		due = append(due, e.sourceID)
	}
	return due
}

// nextDue returns the earliest due time, or false when empty.
func (t *timeline) nextDue() (time.Time, bool) {
	if len(t.entries) == 0 {
		return time.Time{}, false
	}
	return t.entries[0].dueAt, true
}

// dueFor reports a scheduled source's due time.
func (t *timeline) dueFor(sourceID string) (time.Time, bool) {
	e, ok := t.byID[sourceID]
	if !ok {
		return time.Time{}, false
	}
	return e.dueAt, true
}
