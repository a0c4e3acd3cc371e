package sse

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/welldanyogia/event-bridge/backend/internal/events"
	"github.com/welldanyogia/event-bridge/backend/internal/headless"
	"github.com/welldanyogia/event-bridge/backend/internal/metrics"
)

// InMemoryConnectionManager tracks the stream connections of remote runtimes.
// It is the bridge's runtime notifier: Signal fans a pending_events frame out
// to every connection.
type InMemoryConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]map[string]*Connection // runtimeID -> connID -> Connection
	config      Config
	logger      *slog.Logger
}

// NewConnectionManager creates a new InMemoryConnectionManager with the given config.
func NewConnectionManager(config Config, logger *slog.Logger) *InMemoryConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BackgroundPollInterval <= 0 {
		config.BackgroundPollInterval = DefaultConfig().BackgroundPollInterval
	}
	return &InMemoryConnectionManager{
		connections: make(map[string]map[string]*Connection),
		config:      config,
		logger:      logger,
	}
}

// AddConnection adds a new connection for a runtime.
// If the runtime has reached the connection limit, the oldest connection is
// sent a connection_limit frame and closed.
func (cm *InMemoryConnectionManager) AddConnection(runtimeID string, conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.connections[runtimeID] == nil {
		cm.connections[runtimeID] = make(map[string]*Connection)
	}
	runtimeConns := cm.connections[runtimeID]

	if cm.config.MaxConnectionsPerRuntime > 0 && len(runtimeConns) >= cm.config.MaxConnectionsPerRuntime {
		if oldest := cm.findOldestConnectionLocked(runtimeID); oldest != nil {
			_ = oldest.Send(NewFrame(FrameConnectionLimit, map[string]any{
				"message":         "Maximum connections exceeded, closing oldest connection",
				"max_connections": cm.config.MaxConnectionsPerRuntime,
			}))
			oldest.Close()
			delete(runtimeConns, oldest.ID)
			metrics.SSEConnectionsActive.Dec()
		}
	}

	runtimeConns[conn.ID] = conn
	metrics.SSEConnectionsActive.Inc()
}

// RemoveConnection removes a connection for a runtime.
func (cm *InMemoryConnectionManager) RemoveConnection(runtimeID, connID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if runtimeConns, exists := cm.connections[runtimeID]; exists {
		if conn, connExists := runtimeConns[connID]; connExists {
			conn.Close()
			delete(runtimeConns, connID)
			metrics.SSEConnectionsActive.Dec()
		}
		if len(runtimeConns) == 0 {
			delete(cm.connections, runtimeID)
		}
	}
}

// GetConnections returns all open connections for a runtime.
func (cm *InMemoryConnectionManager) GetConnections(runtimeID string) []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	result := make([]*Connection, 0, len(cm.connections[runtimeID]))
	for _, conn := range cm.connections[runtimeID] {
		if !conn.IsClosed() {
			result = append(result, conn)
		}
	}
	return result
}

// CountConnections returns the number of open connections for a runtime.
func (cm *InMemoryConnectionManager) CountConnections(runtimeID string) int {
	return len(cm.GetConnections(runtimeID))
}

// TotalConnections returns the number of open connections across all runtimes.
func (cm *InMemoryConnectionManager) TotalConnections() int {
	return len(cm.all())
}

// RuntimeIDs returns the ids of runtimes with at least one connection, sorted.
func (cm *InMemoryConnectionManager) RuntimeIDs() []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	ids := make([]string, 0, len(cm.connections))
	for id := range cm.connections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Broadcast writes frame to every open connection and returns how many
// accepted it. Failed connections are left for CleanupDeadConnections.
func (cm *InMemoryConnectionManager) Broadcast(frame Frame) int {
	sent := 0
	for _, conn := range cm.all() {
		if err := conn.Send(frame); err != nil {
			cm.logger.Debug("sse frame not delivered",
				slog.String("runtime_id", conn.RuntimeID),
				slog.String("connection_id", conn.ID),
				slog.String("frame", frame.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		sent++
	}
	return sent
}

// Signal tells every connected runtime to drain its foreground listeners.
// With no runtime connected it does nothing; the events wait for the next
// connection, which is told on connect.
func (cm *InMemoryConnectionManager) Signal(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cm.Broadcast(Frame{Name: events.FramePendingEvents})
	return nil
}

// SignalBackground tells every connected runtime to drain the background
// bucket.
func (cm *InMemoryConnectionManager) SignalBackground(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cm.Broadcast(Frame{Name: events.FramePendingBackgroundEvents}) == 0 {
		return ErrNoRuntime
	}
	return nil
}

// BackgroundTask returns a headless task that hands the background bucket to
// the connected runtimes. It sends pending_background_events and then waits
// until pending reports false or ctx ends. With no runtime connected it fails
// at once and the events stay pending.
func (cm *InMemoryConnectionManager) BackgroundTask(pending func() bool) headless.Task {
	return func(ctx context.Context) error {
		if err := cm.SignalBackground(ctx); err != nil {
			return err
		}

		ticker := time.NewTicker(cm.config.BackgroundPollInterval)
		defer ticker.Stop()

		for pending() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		return nil
	}
}

// all returns every open connection. The slice is safe to use unlocked.
func (cm *InMemoryConnectionManager) all() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	var result []*Connection
	for _, runtimeConns := range cm.connections {
		for _, conn := range runtimeConns {
			if !conn.IsClosed() {
				result = append(result, conn)
			}
		}
	}
	return result
}

// CleanupDeadConnections removes connections that are closed, unresponsive
// for three heartbeat intervals, or older than the connection timeout. It
// returns how many were removed.
func (cm *InMemoryConnectionManager) CleanupDeadConnections() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	removed := 0
	for runtimeID, runtimeConns := range cm.connections {
		for connID, conn := range runtimeConns {
			if conn.IsClosed() || cm.isConnectionDead(conn) || cm.isTimedOut(conn) {
				conn.Close()
				delete(runtimeConns, connID)
				metrics.SSEConnectionsActive.Dec()
				removed++
			}
		}
		if len(runtimeConns) == 0 {
			delete(cm.connections, runtimeID)
		}
	}

	if removed > 0 {
		cm.logger.Info("removed stale sse connections", slog.Int("count", removed))
	}
	return removed
}

// CloseAll closes every connection. Handlers blocked on a connection return.
func (cm *InMemoryConnectionManager) CloseAll() {
	for _, conn := range cm.all() {
		conn.Close()
	}
}

func (cm *InMemoryConnectionManager) isConnectionDead(conn *Connection) bool {
	if cm.config.HeartbeatInterval <= 0 {
		return false
	}
	return time.Since(conn.LastPing()) > cm.config.HeartbeatInterval*3
}

func (cm *InMemoryConnectionManager) isTimedOut(conn *Connection) bool {
	if cm.config.ConnectionTimeout <= 0 {
		return false
	}
	return time.Since(conn.CreatedAt) > cm.config.ConnectionTimeout
}

// findOldestConnectionLocked finds the oldest connection for a runtime.
// Caller must hold the lock.
func (cm *InMemoryConnectionManager) findOldestConnectionLocked(runtimeID string) *Connection {
	var oldest *Connection
	for _, conn := range cm.connections[runtimeID] {
		if oldest == nil || conn.CreatedAt.Before(oldest.CreatedAt) {
			oldest = conn
		}
	}
	return oldest
}
