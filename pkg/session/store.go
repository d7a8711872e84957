package session

import (
	"fmt"
	"sync"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in conversational memory.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// StoreOptions caps what a store retains. Zero disables a cap.
type StoreOptions struct {
	MaxTurns  int `json:"max_turns" mapstructure:"max_turns" yaml:"max_turns"`
	MaxTokens int `json:"max_tokens" mapstructure:"max_tokens" yaml:"max_tokens"`
}

// Store is an append-only, bounded log of turns safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	turns    []Turn
	tokens   int
	opts     StoreOptions
	lastUsed time.Time

	// onAppend runs under the lock after new turns are stored.
	onAppend func(added []Turn, size int)
}

// NewStore creates an empty store.
func NewStore(opts StoreOptions) *Store {
	return &Store{opts: opts, lastUsed: time.Now()}
}

// EstimateTokens approximates the token count of text at four characters per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

func validateTurn(turn Turn) error {
	if turn.Role != RoleUser && turn.Role != RoleAssistant {
		return fmt.Errorf("invalid turn role %q", turn.Role)
	}
	return nil
}

// Append adds one turn.
func (s *Store) Append(turn Turn) error {
	return s.append([]Turn{turn})
}

// AppendExchange adds a user turn and the assistant reply as one atomic step,
// so concurrent runs on a shared store cannot interleave their pairs.
func (s *Store) AppendExchange(query, answer string) error {
	now := time.Now()
	return s.append([]Turn{
		{Role: RoleUser, Content: query, Timestamp: now},
		{Role: RoleAssistant, Content: answer, Timestamp: now},
	})
}

func (s *Store) append(turns []Turn) error {
	for i := range turns {
		if err := validateTurn(turns[i]); err != nil {
			return err
		}
		if turns[i].Timestamp.IsZero() {
			turns[i].Timestamp = time.Now()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, turn := range turns {
		s.turns = append(s.turns, turn)
		s.tokens += EstimateTokens(turn.Content)
	}
	s.evictLocked()
	s.lastUsed = time.Now()

	if s.onAppend != nil {
		s.onAppend(turns, len(s.turns))
	}
	return nil
}

// evictLocked drops the oldest turns until both caps hold. The newest turn always stays.
func (s *Store) evictLocked() {
	drop := 0
	tokens := s.tokens
	for drop < len(s.turns)-1 {
		overTurns := s.opts.MaxTurns > 0 && len(s.turns)-drop > s.opts.MaxTurns
		overTokens := s.opts.MaxTokens > 0 && tokens > s.opts.MaxTokens
		if !overTurns && !overTokens {
			break
		}
		tokens -= EstimateTokens(s.turns[drop].Content)
		drop++
	}
	if drop == 0 {
		return
	}
	kept := make([]Turn, len(s.turns)-drop)
	copy(kept, s.turns[drop:])
	s.turns = kept
	s.tokens = tokens
}

// Snapshot returns a copy of the turns in chronological order.
func (s *Store) Snapshot() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastUsed = time.Now()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of turns held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Tokens returns the estimated token total of the held turns.
func (s *Store) Tokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// Clear drops every turn.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.tokens = 0
}

// LastUsed reports when the store was last read or written.
func (s *Store) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// restore loads turns without triggering onAppend.
func (s *Store) restore(turns []Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, turn := range turns {
		if validateTurn(turn) != nil {
			continue
		}
		s.turns = append(s.turns, turn)
		s.tokens += EstimateTokens(turn.Content)
	}
	s.evictLocked()
}
