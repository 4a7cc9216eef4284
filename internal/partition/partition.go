// Package partition splits accepted targets across a fixed number of worker
// slots, either as static round-robin slices or through a shared pull queue.
package partition

import (
	"context"
	"fmt"

	"github.com/JakeFAU/webshot/internal/capture"
	"github.com/JakeFAU/webshot/internal/queue/memory"
)

// Policy selects how targets are assigned to slots.
type Policy string

// Supported policies.
const (
	PolicyPull       Policy = "pull"
	PolicyRoundRobin Policy = "round_robin"
)

// ParsePolicy validates a policy name; empty means pull.
func ParsePolicy(name string) (Policy, error) {
	switch Policy(name) {
	case "", PolicyPull:
		return PolicyPull, nil
	case PolicyRoundRobin:
		return PolicyRoundRobin, nil
	default:
		return "", fmt.Errorf("unknown partition policy %q", name)
	}
}

// Source yields the tasks one slot should run, already stamped with that
// slot. A Source is only used from its slot's goroutine.
type Source interface {
	Next(ctx context.Context) (capture.Task, bool)
}

// RoundRobin assigns target i to slot i mod workers, preserving input order
// within each slice. Slots beyond len(targets) get empty slices.
func RoundRobin(targets []capture.Target, workers int) ([][]capture.Target, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("worker count must be > 0, got %d", workers)
	}
	slices := make([][]capture.Target, workers)
	for i, target := range targets {
		slot := i % workers
		slices[slot] = append(slices[slot], target)
	}
	return slices, nil
}

// Pull is a shared queue pre-filled with every target and then closed; slots
// take the next unclaimed target as they become free.
type Pull struct {
	q *memory.Queue
}

// NewPull fills and closes the queue.
func NewPull(targets []capture.Target) *Pull {
	q := memory.NewQueue(len(targets))
	for _, target := range targets {
		// Capacity equals len(targets), so this never blocks.
		_ = q.Enqueue(context.Background(), target)
	}
	q.Close()
	return &Pull{q: q}
}

// Next returns the next unclaimed target, or false once the queue is empty or
// ctx has ended.
func (p *Pull) Next(ctx context.Context) (capture.Target, bool) {
	if ctx.Err() != nil {
		return capture.Target{}, false
	}
	target, err := p.q.Dequeue(ctx)
	if err != nil {
		return capture.Target{}, false
	}
	return target, true
}

// For returns the Source slot pulls from; every slot shares the queue.
func (p *Pull) For(slot int) Source {
	return pullSource{pull: p, slot: slot}
}

type pullSource struct {
	pull *Pull
	slot int
}

func (s pullSource) Next(ctx context.Context) (capture.Task, bool) {
	target, ok := s.pull.Next(ctx)
	if !ok {
		return capture.Task{}, false
	}
	return capture.Task{Target: target, Slot: s.slot}, true
}

type sliceSource struct {
	slot  int
	items []capture.Target
	pos   int
}

func (s *sliceSource) Next(ctx context.Context) (capture.Task, bool) {
	if ctx.Err() != nil || s.pos >= len(s.items) {
		return capture.Task{}, false
	}
	target := s.items[s.pos]
	s.pos++
	return capture.Task{Target: target, Slot: s.slot}, true
}

// Sources returns one Source per slot that has work, at most workers of them.
func Sources(policy Policy, targets []capture.Target, workers int) ([]Source, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("worker count must be > 0, got %d", workers)
	}
	n := min(workers, len(targets))
	switch policy {
	case PolicyRoundRobin:
		slices, err := RoundRobin(targets, workers)
		if err != nil {
			return nil, err
		}
		out := make([]Source, 0, n)
		for slot, items := range slices[:n] {
			out = append(out, &sliceSource{slot: slot, items: items})
		}
		return out, nil
	case PolicyPull, "":
		pull := NewPull(targets)
		out := make([]Source, n)
		for slot := range out {
			out[slot] = pull.For(slot)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown partition policy %q", policy)
	}
}
