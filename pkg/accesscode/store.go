// Package accesscode issues short-lived single-use pairing codes.
package accesscode

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/csremote/broker/pkg/session"
	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	Alphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	Length      = 10
	DefaultTTL  = 10 * time.Minute
	maxAttempts = 8
)

var (
	ErrNotFound           = errors.New("access code not found")
	ErrAlreadyConsumed    = errors.New("access code already consumed")
	ErrCodeSpaceExhausted = errors.New("no free access code")
)

// Code is a snapshot of an issued access code.
type Code struct {
	Code      string           `json:"code"`
	Owner     session.Identity `json:"owner"`
	IssuedAt  time.Time        `json:"issued_at"`
	ExpiresAt time.Time        `json:"expires_at"`
	Consumed  bool             `json:"consumed"`
}

func (c *Code) expired(now time.Time) bool { return now.After(c.ExpiresAt) }

// Generator makes a candidate code.
type Generator func() (string, error)

func NanoID() (string, error) { return nanoid.Generate(Alphabet, Length) }

type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }
func WithGenerator(gen Generator) Option    { return func(s *Store) { s.gen = gen } }

// Store keeps the codes in memory. Safe for concurrent use.
//
// Consumed codes are kept until they expire, so that a repeated
// consumption is reported as ErrAlreadyConsumed instead of ErrNotFound.
type Store struct {
	mu      sync.Mutex
	codes   map[string]*Code
	byOwner map[session.Identity]map[string]struct{}

	ttl time.Duration
	now func() time.Time
	gen Generator
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		codes:   make(map[string]*Code),
		byOwner: make(map[session.Identity]map[string]struct{}),
		ttl:     DefaultTTL,
		now:     time.Now,
		gen:     NanoID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue makes a new code for the owner. The owner's expired codes are
// pruned first, a still valid one is left alone.
func (s *Store) Issue(owner session.Identity) (Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for code := range s.byOwner[owner] {
		if s.codes[code].expired(now) {
			s.remove(code)
		}
	}

	for range maxAttempts {
		code, err := s.gen()
		if err != nil {
			return Code{}, fmt.Errorf("accesscode: %w", err)
		}
		if _, taken := s.codes[code]; taken {
			continue
		}
		c := &Code{Code: code, Owner: owner, IssuedAt: now, ExpiresAt: now.Add(s.ttl)}
		s.codes[code] = c
		if s.byOwner[owner] == nil {
			s.byOwner[owner] = make(map[string]struct{})
		}
		s.byOwner[owner][code] = struct{}{}
		return *c, nil
	}
	return Code{}, ErrCodeSpaceExhausted
}

// Validate returns the code owner without consuming it.
func (s *Store) Validate(code string) (session.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.live(code)
	if err != nil {
		return 0, err
	}
	if c.Consumed {
		return 0, ErrNotFound
	}
	return c.Owner, nil
}

// Consume marks the code used, the second call fails with ErrAlreadyConsumed.
func (s *Store) Consume(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.live(code)
	if err != nil {
		return err
	}
	if c.Consumed {
		return ErrAlreadyConsumed
	}
	c.Consumed = true
	return nil
}

// Redeem validates and consumes the code in one step.
func (s *Store) Redeem(code string) (session.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.live(code)
	if err != nil {
		return 0, err
	}
	if c.Consumed {
		return 0, ErrAlreadyConsumed
	}
	c.Consumed = true
	return c.Owner, nil
}

// Sweep drops all expired codes and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now, n := s.now(), 0
	for code, c := range s.codes {
		if c.expired(now) {
			s.remove(code)
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

// live finds an unexpired code, evicting it when expired.
func (s *Store) live(code string) (*Code, error) {
	c, ok := s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	if c.expired(s.now()) {
		s.remove(code)
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *Store) remove(code string) {
	c, ok := s.codes[code]
	if !ok {
		return
	}
	delete(s.codes, code)
	if set := s.byOwner[c.Owner]; set != nil {
		delete(set, code)
		if len(set) == 0 {
			delete(s.byOwner, c.Owner)
		}
	}
}
