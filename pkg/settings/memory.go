package settings

import "sync"

// MemoryStore is an in-process Store used in tests and as a fallback
// when no database path is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	closed  bool
	docs    map[string]map[string]any // agent\x00plugin -> document
	actives map[string][]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[string]map[string]any),
		actives: make(map[string][]string),
	}
}

func key(agentID, pluginID string) string {
	return agentID + "\x00" + pluginID
}

func (m *MemoryStore) GetSettings(agentID, pluginID string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	doc, ok := m.docs[key(agentID, pluginID)]
	if !ok {
		return nil, nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) SetSettings(agentID, pluginID string, values map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	doc := make(map[string]any, len(values))
	for k, v := range values {
		doc[k] = v
	}
	m.docs[key(agentID, pluginID)] = doc
	return nil
}

func (m *MemoryStore) DeleteSettings(agentID, pluginID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.docs, key(agentID, pluginID))
	return nil
}

func (m *MemoryStore) DeletePluginSettings(pluginID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	suffix := "\x00" + pluginID
	for k := range m.docs {
		if len(k) >= len(suffix) && k[len(k)-len(suffix):] == suffix {
			delete(m.docs, k)
		}
	}
	return nil
}

func (m *MemoryStore) GetActivePlugins(agentID string) ([]string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}

	ids, ok := m.actives[agentID]
	if !ok {
		return nil, false, nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out, true, nil
}

func (m *MemoryStore) SetActivePlugins(agentID string, pluginIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	ids := make([]string, len(pluginIDs))
	copy(ids, pluginIDs)
	m.actives[agentID] = ids
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
