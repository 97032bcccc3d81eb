// Package audit keeps a tamper-evident trail of consensus-relevant events:
// accepted votes, rejected signatures, and release triggers. Entries are
// hash-chained so any retroactive edit breaks verification.
package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/fundproof/core/pkg/canonicalize"
)

// Clock supplies entry timestamps; injectable for tests.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Event types recorded by the consensus engine.
const (
	EventVoteAccepted      = "VOTE_ACCEPTED"
	EventSignatureRejected = "SIGNATURE_REJECTED"
	EventStaleVote         = "STALE_VOTE"
	EventReleaseTriggered  = "RELEASE_TRIGGERED"
	EventEscrowCreated     = "ESCROW_CREATED"
)

// Entry is one tamper-evident record.
type Entry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Actor        string    `json:"actor"`
	Event        string    `json:"event"`
	Target       string    `json:"target"`
	Details      string    `json:"details,omitempty"`
	PreviousHash string    `json:"previous_hash"`
	Hash         string    `json:"hash"`
}

// Log is an in-memory hash-chained event log.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	clock   Clock
}

// NewLog creates an empty log. A nil clock falls back to wall time.
func NewLog(clock ...Clock) *Log {
	var c Clock = wallClock{}
	if len(clock) > 0 && clock[0] != nil {
		c = clock[0]
	}
	return &Log{clock: c}
}

// Append adds an entry linked to the previous one.
func (l *Log) Append(actor, event, target, details string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := ""
	if len(l.entries) > 0 {
		prevHash = l.entries[len(l.entries)-1].Hash
	}

	now := l.clock.Now()
	entry := Entry{
		ID:           fmt.Sprintf("evt_%d_%d", now.UnixNano(), len(l.entries)),
		Timestamp:    now.UTC(),
		Actor:        actor,
		Event:        event,
		Target:       target,
		Details:      details,
		PreviousHash: prevHash,
	}

	hash, err := entryHash(&entry)
	if err != nil {
		return nil, err
	}
	entry.Hash = hash

	l.entries = append(l.entries, entry)
	return &entry, nil
}

// Entries returns a snapshot of the log.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// VerifyChain walks the full chain and reports the first break.
func (l *Log) VerifyChain() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := ""
	for i := range l.entries {
		e := l.entries[i]
		if e.PreviousHash != prevHash {
			return false, fmt.Errorf("chain broken at index %d", i)
		}
		expected, err := entryHash(&e)
		if err != nil {
			return false, err
		}
		if e.Hash != expected {
			return false, fmt.Errorf("integrity failure at index %d", i)
		}
		prevHash = e.Hash
	}
	return true, nil
}

func entryHash(e *Entry) (string, error) {
	hashable := struct {
		ID           string    `json:"id"`
		Timestamp    time.Time `json:"timestamp"`
		Actor        string    `json:"actor"`
		Event        string    `json:"event"`
		Target       string    `json:"target"`
		Details      string    `json:"details"`
		PreviousHash string    `json:"previous_hash"`
	}{e.ID, e.Timestamp, e.Actor, e.Event, e.Target, e.Details, e.PreviousHash}

	return canonicalize.CanonicalHash(hashable)
}
