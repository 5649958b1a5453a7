package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultActivityTimeout is how long a client may stay silent before it is forgotten
const DefaultActivityTimeout = 30 * time.Second

// Client is a connected controller (a browser tab or remote device)
type Client struct {
	ID           string    `json:"id"`
	UserAgent    string    `json:"userAgent"`
	IPAddress    string    `json:"ipAddress"`
	DeviceName   string    `json:"deviceName"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	IsAudioHost  bool      `json:"isAudioHost"`
}

// Manager tracks connected clients and which of them hosts the audio. The
// audio host is the client whose browser actually plays the decks; every
// other client is a remote control.
type Manager struct {
	clients         map[string]*Client
	audioHost       string
	mutex           sync.RWMutex
	activityTimeout time.Duration
	now             func() time.Time
}

// NewManager creates a client manager
func NewManager(activityTimeout time.Duration) *Manager {
	if activityTimeout <= 0 {
		activityTimeout = DefaultActivityTimeout
	}
	return &Manager{
		clients:         make(map[string]*Client),
		activityTimeout: activityTimeout,
		now:             time.Now,
	}
}

// Register adds a client. The first client becomes the audio host.
func (m *Manager) Register(userAgent, ipAddress, deviceName string) *Client {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.cleanupExpired()

	now := m.now()
	client := &Client{
		ID:           uuid.New().String(),
		UserAgent:    userAgent,
		IPAddress:    ipAddress,
		DeviceName:   deviceName,
		ConnectedAt:  now,
		LastActivity: now,
	}
	m.clients[client.ID] = client

	if m.audioHost == "" {
		m.audioHost = client.ID
	}

	return m.copyOf(client)
}

// Get returns a copy of a live client
func (m *Manager) Get(id string) (*Client, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	client, ok := m.clients[id]
	if !ok || !m.isActive(client) {
		return nil, false
	}
	return m.copyOf(client), true
}

// Touch records activity for a client. It reports false for unknown or expired clients.
func (m *Manager) Touch(id string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	client, ok := m.clients[id]
	if !ok || !m.isActive(client) {
		return false
	}
	client.LastActivity = m.now()
	return true
}

// SetAudioHost hands audio output to another client
func (m *Manager) SetAudioHost(id string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	client, ok := m.clients[id]
	if !ok || !m.isActive(client) {
		return false
	}
	m.audioHost = id
	client.LastActivity = m.now()
	return true
}

// AudioHost returns the client currently playing the decks, electing the
// most recently active client when the previous host went away.
func (m *Manager) AudioHost() (*Client, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.cleanupExpired()
	if m.audioHost == "" {
		m.electAudioHost()
	}
	if m.audioHost == "" {
		return nil, false
	}
	return m.copyOf(m.clients[m.audioHost]), true
}

// List returns all live clients, oldest first
func (m *Manager) List() []*Client {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.cleanupExpired()

	result := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		result = append(result, m.copyOf(client))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ConnectedAt.Before(result[j].ConnectedAt)
	})
	return result
}

// Remove forgets a client
func (m *Manager) Remove(id string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.clients, id)
	if m.audioHost == id {
		m.electAudioHost()
	}
}

// isActive must be called with lock held
func (m *Manager) isActive(client *Client) bool {
	return m.now().Sub(client.LastActivity) < m.activityTimeout
}

// cleanupExpired removes inactive clients (must be called with write lock held)
func (m *Manager) cleanupExpired() {
	for id, client := range m.clients {
		if !m.isActive(client) {
			delete(m.clients, id)
			if m.audioHost == id {
				m.audioHost = ""
			}
		}
	}
}

// electAudioHost picks the most recently active client (must be called with write lock held)
func (m *Manager) electAudioHost() {
	m.audioHost = ""
	var mostRecent *Client
	for _, client := range m.clients {
		if !m.isActive(client) {
			continue
		}
		if mostRecent == nil || client.LastActivity.After(mostRecent.LastActivity) {
			mostRecent = client
		}
	}
	if mostRecent != nil {
		m.audioHost = mostRecent.ID
	}
}

func (m *Manager) copyOf(client *Client) *Client {
	c := *client
	c.IsAudioHost = client.ID == m.audioHost
	return &c
}
