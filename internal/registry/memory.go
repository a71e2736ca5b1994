package registry

import (
	"context"
	"sort"
	"sync"
)

// Memory is a process-local Registry.
type Memory struct {
	mu       sync.RWMutex
	channels map[string]map[string]struct{}
	owners   map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		channels: make(map[string]map[string]struct{}),
		owners:   make(map[string]string),
	}
}

func (m *Memory) Register(_ context.Context, userID, channelID string) error {
	if userID == "" || channelID == "" {
		return ErrInvalidArgument
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.owners[channelID]; ok && old != userID {
		m.removeLocked(old, channelID)
	}
	set, ok := m.channels[userID]
	if !ok {
		set = make(map[string]struct{})
		m.channels[userID] = set
	}
	set[channelID] = struct{}{}
	m.owners[channelID] = userID
	return nil
}

func (m *Memory) Unregister(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	userID, ok := m.owners[channelID]
	if !ok {
		return nil
	}
	m.removeLocked(userID, channelID)
	delete(m.owners, channelID)
	return nil
}

func (m *Memory) ActiveChannels(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.channels[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) removeLocked(userID, channelID string) {
	set := m.channels[userID]
	delete(set, channelID)
	if len(set) == 0 {
		delete(m.channels, userID)
	}
}
