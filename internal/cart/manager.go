package cart

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Manager hands out one Store per (restaurant, session). Stores are created
// lazily and kept for the life of the process; their snapshots live under
// dir so unsent carts survive a restart.
type Manager struct {
	mu     sync.Mutex
	dir    string // empty disables persistence
	stores map[string]*Store
}

func NewManager(dir string) *Manager {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("ERROR: create cart snapshot dir %s: %v", dir, err)
			dir = ""
		}
	}
	return &Manager{dir: dir, stores: make(map[string]*Store)}
}

// ForSession returns the session's cart, creating (and restoring) it on
// first use.
func (m *Manager) ForSession(restaurantID uuid.UUID, sessionKey string) *Store {
	key := restaurantID.String() + "/" + sessionKey
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[key]; ok {
		return s
	}
	path := ""
	if m.dir != "" {
		// Session keys are user-facing labels (e.g. "T2"); hex keeps the
		// filename safe.
		path = filepath.Join(m.dir, fmt.Sprintf("%s_%x.json", restaurantID, sessionKey))
	}
	s := NewStore(path)
	m.stores[key] = s
	return s
}
