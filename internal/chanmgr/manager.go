package chanmgr

import "sync"

// slotKind discriminates what occupies a Manager slot.
type slotKind int

const (
	slotVacant slotKind = iota
	slotPending
	slotLive
)

type slot struct {
	kind    slotKind
	pending func(err error) // invoked by cleanup if still pending
	channel *Channel
}

// Manager allocates local channel ids and tracks per-channel objects,
// coordinating teardown broadcast. Allocation is dense,
// reusable small integers.
type Manager struct {
	mu    sync.Mutex
	slots []slot
}

// NewManager returns an empty Channel Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Add reserves the smallest free id and fills it with a pending-open
// continuation. It returns (id, true), or (0, false) if ids are exhausted
// — the table is capped at maxChannels (about a million concurrent
// channels), far below the uint32 id space, and callers check the
// sentinel.
func (m *Manager) Add(pending func(err error)) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.slots {
		if m.slots[i].kind == slotVacant {
			m.slots[i] = slot{kind: slotPending, pending: pending}
			return uint32(i), true
		}
	}
	if len(m.slots) >= maxChannels {
		return 0, false
	}
	m.slots = append(m.slots, slot{kind: slotPending, pending: pending})
	return uint32(len(m.slots) - 1), true
}

// maxChannels bounds the dense id table; RFC 4254 ids are uint32 but no
// real peer opens billions of channels, so this is a generous, not a
// protocol-mandated, ceiling.
const maxChannels = 1 << 20

// Get returns the current slot contents: exactly one of (pending
// continuation, live channel) is non-nil, or both are nil if vacant/out of
// range.
func (m *Manager) Get(id uint32) (pending func(err error), channel *Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(id) >= len(m.slots) {
		return nil, nil
	}
	s := m.slots[id]
	switch s.kind {
	case slotPending:
		return s.pending, nil
	case slotLive:
		return nil, s.channel
	default:
		return nil, nil
	}
}

// Update replaces a pending continuation with a live channel, called once
// CHANNEL_OPEN_CONFIRMATION has produced a usable Channel. A
// CHANNEL_OPEN_FAILURE releases the id through Remove instead.
func (m *Manager) Update(id uint32, ch *Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(id) >= len(m.slots) {
		return
	}
	m.slots[id] = slot{kind: slotLive, channel: ch}
}

// Remove releases an id once both directions are closed.
func (m *Manager) remove(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(id) >= len(m.slots) {
		return
	}
	m.slots[id] = slot{kind: slotVacant}
}

// Remove is the exported form, used by callers that don't go through
// Channel.OnClosePeer (e.g. a pending-open that never became live).
func (m *Manager) Remove(id uint32) { m.remove(id) }

// Cleanup transitions every occupied slot: pending
// continuations are invoked with err; live channels are force-closed with
// broadcast teardown. Called once, at transport teardown.
func (m *Manager) Cleanup(err error) {
	m.mu.Lock()
	snapshot := make([]slot, len(m.slots))
	copy(snapshot, m.slots)
	for i := range m.slots {
		m.slots[i] = slot{kind: slotVacant}
	}
	m.mu.Unlock()

	for _, s := range snapshot {
		switch s.kind {
		case slotPending:
			if s.pending != nil {
				s.pending(err)
			}
		case slotLive:
			if s.channel != nil {
				s.channel.ForceClose(err)
			}
		}
	}
}

// Len reports the size of the dense id table, mostly useful for tests.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
