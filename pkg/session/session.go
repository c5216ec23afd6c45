package session

import (
	"errors"
	"strconv"
	"strings"
)

// ID identifies a remote support session.
type ID int64

// Identity identifies a registered user (analyst or client).
type Identity int64

func (id ID) String() string       { return strconv.FormatInt(int64(id), 10) }
func (i Identity) String() string { return strconv.FormatInt(int64(i), 10) }

// ParseID reads a session id from a path segment.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v <= 0 {
		return 0, ErrBadID
	}
	return ID(v), nil
}

// Role is one of the two legs of a session.
type Role string

const (
	Analyst Role = "analyst"
	Client  Role = "client"
)

var (
	ErrBadID    = errors.New("bad session id")
	ErrBadRole  = errors.New("unknown role")
	ErrNotFound = errors.New("session not found")
)

// ParseRole accepts the canonical role names and the legacy
// (pt-BR) spellings still sent by older browser builds.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "analyst", "analista":
		return Analyst, nil
	case "client", "cliente":
		return Client, nil
	}
	return "", ErrBadRole
}

// Other returns the opposite leg.
func (r Role) Other() Role {
	if r == Analyst {
		return Client
	}
	return Analyst
}

func (r Role) Valid() bool { return r == Analyst || r == Client }

// Participants are the two identities bound to a session.
type Participants struct {
	Analyst Identity
	Client  Identity
}

func (p Participants) Has(id Identity) bool { _, ok := p.RoleOf(id); return ok }

func (p Participants) RoleOf(id Identity) (Role, bool) {
	switch {
	case id == 0:
		return "", false
	case id == p.Analyst:
		return Analyst, true
	case id == p.Client:
		return Client, true
	}
	return "", false
}
