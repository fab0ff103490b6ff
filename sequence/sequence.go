// Package sequence hands out per-task event sequence numbers.
//
// A single Sequencer is shared by every turn of a process so that two
// concurrent turns writing to the same task never reuse a number. Writers in
// other processes are caught by the store's unique (task, sequence) key.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spetersoncode/liteagent/store"
)

// Source reports the highest persisted sequence of a task, -1 when none.
// store.EventStore satisfies it.
type Source interface {
	MaxSequence(ctx context.Context, taskID string) (int64, error)
}

// Sequencer tracks the next sequence number of each task.
type Sequencer struct {
	src Source

	mu      sync.Mutex
	cursors map[string]*cursor
}

// cursor is one task's position. Its mutex is held across Append writes so
// two writers in this process never race for the same number.
type cursor struct {
	mu    sync.Mutex
	next  int64
	valid bool
}

// New creates a Sequencer that initializes cursors from src.
func New(src Source) *Sequencer {
	return &Sequencer{src: src, cursors: make(map[string]*cursor)}
}

func (s *Sequencer) cursor(taskID string) *cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[taskID]
	if !ok {
		c = &cursor{}
		s.cursors[taskID] = c
	}
	return c
}

// load sets the cursor to the store maximum plus one. c.mu must be held.
func (s *Sequencer) load(ctx context.Context, c *cursor, taskID string) error {
	maxSeq, err := s.src.MaxSequence(ctx, taskID)
	if err != nil {
		return err
	}
	c.next, c.valid = maxSeq+1, true
	return nil
}

// Next returns the task's next sequence number and advances the cursor.
// The first call for a task starts at MaxSequence+1.
func (s *Sequencer) Next(ctx context.Context, taskID string) (int64, error) {
	c := s.cursor(taskID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid {
		if err := s.load(ctx, c, taskID); err != nil {
			return 0, fmt.Errorf("sequence: init %s: %w", taskID, err)
		}
	}
	n := c.next
	c.next++
	return n, nil
}

// Append hands the task's next sequence number to write and advances the
// cursor only when write succeeds, so a failed write leaves no gap. When
// write reports store.ErrDuplicateSequence another writer got there first:
// the cursor is rebased and write is retried once.
func (s *Sequencer) Append(ctx context.Context, taskID string, write func(seq int64) error) (int64, error) {
	c := s.cursor(taskID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid {
		if err := s.load(ctx, c, taskID); err != nil {
			return 0, fmt.Errorf("sequence: init %s: %w", taskID, err)
		}
	}
	seq := c.next
	err := write(seq)
	if errors.Is(err, store.ErrDuplicateSequence) {
		if rerr := s.rebase(ctx, c, taskID); rerr != nil {
			return seq, fmt.Errorf("sequence: rebase %s: %w", taskID, rerr)
		}
		seq = c.next
		err = write(seq)
	}
	if err != nil {
		return seq, err
	}
	c.next = seq + 1
	return seq, nil
}

// Sync re-reads the store maximum and sets the cursor to max+1, whatever it
// held before. A run calls it the first time it touches a task, so writes
// made or deleted by other processes since are taken into account.
func (s *Sequencer) Sync(ctx context.Context, taskID string) error {
	c := s.cursor(taskID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := s.load(ctx, c, taskID); err != nil {
		return fmt.Errorf("sequence: sync %s: %w", taskID, err)
	}
	return nil
}

// Rebase re-reads the store maximum and moves the cursor to max+1 when that
// is ahead of it.
func (s *Sequencer) Rebase(ctx context.Context, taskID string) error {
	c := s.cursor(taskID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := s.rebase(ctx, c, taskID); err != nil {
		return fmt.Errorf("sequence: rebase %s: %w", taskID, err)
	}
	return nil
}

func (s *Sequencer) rebase(ctx context.Context, c *cursor, taskID string) error {
	maxSeq, err := s.src.MaxSequence(ctx, taskID)
	if err != nil {
		return err
	}
	if !c.valid || c.next < maxSeq+1 {
		c.next, c.valid = maxSeq+1, true
	}
	return nil
}

// Forget resets the task's cursor, typically after the task is deleted. The
// next use re-reads the store.
func (s *Sequencer) Forget(taskID string) {
	s.mu.Lock()
	c, ok := s.cursors[taskID]
	s.mu.Unlock()
	if !ok {
		return
	}
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// Verify reports the first record, in list order, that breaks the 0, 1, 2...
// numbering of a task's history.
func Verify(records []store.EventRecord) error {
	for i, rec := range records {
		if rec.Sequence != int64(i) {
			return fmt.Errorf("sequence: task %s record %d (%s) has sequence %d, want %d",
				rec.TaskID, i, rec.Kind, rec.Sequence, i)
		}
	}
	return nil
}
