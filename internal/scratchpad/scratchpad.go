// Package scratchpad implements the append-only, session-scoped conversation
// log (C2): a mix of textual turns, committed transcript segments, and
// tool-call records, plus the per-source audio buffers that feed them.
package scratchpad

import (
	"strings"
	"sync"
)

// Kind discriminates the three Entry variants.
type Kind string

const (
	KindText         Kind = "text"
	KindAudio        Kind = "audio"
	KindFunctionCall Kind = "function_call"
)

// Entry is one immutable scratchpad record.
type Entry struct {
	Source  string
	Kind    Kind
	Content string

	// Function-call fields; only meaningful when Kind == KindFunctionCall.
	Name     string
	CallID   string
	Args     string
	Response string
}

// Scratchpad is an in-memory, append-only conversation log. The zero value
// is not usable; construct with [New]. Safe for concurrent use.
type Scratchpad struct {
	mu      sync.Mutex
	entries []Entry
	buffers map[string][]string
}

// New returns an empty, ready-to-use Scratchpad.
func New() *Scratchpad {
	return &Scratchpad{buffers: make(map[string][]string)}
}

// Append adds a non-audio entry. Per the ordering invariant (spec §4.2),
// appending any non-audio entry first commits both source audio buffers, so
// an audio entry never straddles a textual or function-call turn.
func (s *Scratchpad) Append(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitAllLocked()
	s.entries = append(s.entries, e)
}

// BufferAudio accumulates a transcription fragment for source. It never
// emits an entry by itself; call CommitAudio (directly, or implicitly via
// Append) to promote the buffer to an audio Entry.
func (s *Scratchpad) BufferAudio(source, fragment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers[source] = append(s.buffers[source], fragment)
}

// CommitAudio promotes the buffered fragments for source into a single audio
// Entry whose content is the joined, whitespace-normalized buffer. Emits at
// most one entry; a call with an empty buffer is a no-op.
func (s *Scratchpad) CommitAudio(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitLocked(source)
}

// Snapshot returns an ordered, immutable view of the entries appended so
// far. Consumers must not mutate the returned slice; it is a defensive copy.
func (s *Scratchpad) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// commitAllLocked commits every source buffer. Callers must hold s.mu.
func (s *Scratchpad) commitAllLocked() {
	for source := range s.buffers {
		s.commitLocked(source)
	}
}

// commitLocked commits the buffer for source. Callers must hold s.mu.
func (s *Scratchpad) commitLocked(source string) {
	frags := s.buffers[source]
	if len(frags) == 0 {
		return
	}
	content := strings.Join(strings.Fields(strings.Join(frags, " ")), " ")
	delete(s.buffers, source)
	if content == "" {
		return
	}
	s.entries = append(s.entries, Entry{Source: source, Kind: KindAudio, Content: content})
}
