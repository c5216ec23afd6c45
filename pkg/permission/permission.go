// Package permission resolves what a session participant may do.
package permission

import (
	"slices"
	"sync"

	"github.com/csremote/broker/pkg/session"
	"github.com/samber/lo"
)

type Permission string

const (
	ViewScreen      Permission = "view_screen"
	ControlMouse    Permission = "control_mouse"
	ControlKeyboard Permission = "control_keyboard"
	TransferFiles   Permission = "transfer_files"
	RecordSession   Permission = "record_session"
	AdminPanel      Permission = "admin_panel"
)

// All lists every known permission, it is what admins get.
var All = []Permission{ViewScreen, ControlMouse, ControlKeyboard, TransferFiles, RecordSession, AdminPanel}

var base = map[session.Role][]Permission{
	session.Client:  {ViewScreen, TransferFiles},
	session.Analyst: {ViewScreen, ControlMouse, ControlKeyboard, TransferFiles, RecordSession},
}

func (p Permission) Valid() bool { return slices.Contains(All, p) }

// CapabilitiesFor returns the base capabilities of the role,
// unknown roles get nothing.
func CapabilitiesFor(role session.Role, isAdmin bool) []Permission {
	if isAdmin {
		return slices.Clone(All)
	}
	return slices.Clone(base[role])
}

type key struct {
	session  session.ID
	identity session.Identity
}

// Model holds per-session overrides on top of the static role table.
// Overrides only add permissions. Safe for concurrent use.
type Model struct {
	mu        sync.RWMutex
	overrides map[key]map[Permission]struct{}
}

func New() *Model { return &Model{overrides: make(map[key]map[Permission]struct{})} }

// Grant adds the override when granted and removes it otherwise.
// Removing an override never takes away a base capability.
func (m *Model) Grant(sid session.ID, identity session.Identity, p Permission, granted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{sid, identity}
	if granted {
		if m.overrides[k] == nil {
			m.overrides[k] = make(map[Permission]struct{})
		}
		m.overrides[k][p] = struct{}{}
		return
	}
	if set := m.overrides[k]; set != nil {
		delete(set, p)
		if len(set) == 0 {
			delete(m.overrides, k)
		}
	}
}

func (m *Model) Has(role session.Role, identity session.Identity, sid session.ID, p Permission, isAdmin bool) bool {
	if isAdmin || slices.Contains(base[role], p) {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.overrides[key{sid, identity}][p]
	return ok
}

// Overrides lists the granted overrides of the identity in the session.
func (m *Model) Overrides(sid session.ID, identity session.Identity) []Permission {
	m.mu.RLock()
	set := m.overrides[key{sid, identity}]
	out := lo.Keys(set)
	m.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Effective merges the base capabilities with the overrides.
func (m *Model) Effective(role session.Role, identity session.Identity, sid session.ID, isAdmin bool) []Permission {
	all := lo.Uniq(append(CapabilitiesFor(role, isAdmin), m.Overrides(sid, identity)...))
	return lo.Filter(All, func(p Permission, _ int) bool { return slices.Contains(all, p) })
}

// Forget drops all overrides of the session.
func (m *Model) Forget(sid session.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.overrides {
		if k.session == sid {
			delete(m.overrides, k)
		}
	}
}
