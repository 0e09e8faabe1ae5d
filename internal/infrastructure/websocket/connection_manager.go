package websocket

import (
	"encoding/json"
	"sync"

	"auction-site/internal/domain"
	"auction-site/pkg/logger"
)

// ConnectionManager tracks the live watcher connections per auction and
// per user and fans bid events out to them.
type ConnectionManager struct {
	connections map[string]map[string]domain.WebSocketConnection // auctionKey -> username -> connection
	userConns   map[string][]domain.WebSocketConnection          // username -> connections
	mutex       sync.RWMutex
	log         logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]map[string]domain.WebSocketConnection),
		userConns:   make(map[string][]domain.WebSocketConnection),
		log:         log,
	}
}

func (cm *ConnectionManager) RegisterConnection(username, auctionKey string, conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.connections[auctionKey] == nil {
		cm.connections[auctionKey] = make(map[string]domain.WebSocketConnection)
	}
	cm.connections[auctionKey][username] = conn

	cm.userConns[username] = append(cm.userConns[username], conn)

	cm.log.Info("Connection registered", "username", username, "auction", auctionKey)
	return nil
}

func (cm *ConnectionManager) UnregisterConnection(username, auctionKey string) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.removeLocked(username, auctionKey)

	cm.log.Info("Connection unregistered", "username", username, "auction", auctionKey)
	return nil
}

func (cm *ConnectionManager) removeLocked(username, auctionKey string) {
	if auctionConns, exists := cm.connections[auctionKey]; exists {
		delete(auctionConns, username)
		if len(auctionConns) == 0 {
			delete(cm.connections, auctionKey)
		}
	}

	if userConnections, exists := cm.userConns[username]; exists {
		var remaining []domain.WebSocketConnection
		for _, existing := range userConnections {
			if existing.AuctionKey() != auctionKey {
				remaining = append(remaining, existing)
			}
		}
		if len(remaining) == 0 {
			delete(cm.userConns, username)
		} else {
			cm.userConns[username] = remaining
		}
	}
}

func (cm *ConnectionManager) CloseAndUnregisterConnections(auctionKey string) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	auctionConns, exists := cm.connections[auctionKey]
	if !exists {
		return nil
	}
	for username, conn := range auctionConns {
		if err := conn.Close(); err != nil {
			cm.log.Error("Failed to close connection", "username", username,
				"auction", auctionKey, "error", err)
		}
		cm.removeLocked(username, auctionKey)
	}
	delete(cm.connections, auctionKey)

	cm.log.Info("Connections closed for auction", "auction", auctionKey)
	return nil
}

func (cm *ConnectionManager) connectionsForAuction(auctionKey string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var connections []domain.WebSocketConnection
	for _, conn := range cm.connections[auctionKey] {
		connections = append(connections, conn)
	}
	return connections
}

func (cm *ConnectionManager) connectionsForUser(username string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return append([]domain.WebSocketConnection(nil), cm.userConns[username]...)
}

func (cm *ConnectionManager) BroadcastToAuction(auctionKey string, message interface{}) error {
	connections := cm.connectionsForAuction(auctionKey)

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	for _, conn := range connections {
		if err := conn.Send(messageBytes); err != nil {
			cm.log.Error("Failed to send message", "username", conn.Username(),
				"auction", auctionKey, "error", err)
			// Keep going; one dead watcher must not starve the rest.
		}
	}

	return nil
}

func (cm *ConnectionManager) NotifyUser(username string, message interface{}) error {
	connections := cm.connectionsForUser(username)

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	for _, conn := range connections {
		if err := conn.Send(messageBytes); err != nil {
			cm.log.Error("Failed to send message", "username", username, "error", err)
		}
	}

	return nil
}
