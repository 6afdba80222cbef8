package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// ConnectionManager manages WebSocket connections for auction channels
type ConnectionManager struct {
	// Connection pools organized by channel ID
	channelConnections map[string]map[*Connection]bool
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	clock    clockwork.Clock

	broadcastCh chan BroadcastMessage

	onCommand func(*Connection, ClientCommand)
	onEmpty   func(channelID string)

	wg sync.WaitGroup
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID        string
	User      models.User
	ChannelID string
	Conn      *websocket.Conn
	Send      chan []byte
	Manager   *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents a message to broadcast to connections
type BroadcastMessage struct {
	ChannelID string
	Event     *ChannelEvent
	UserID    string // Optional: if set, only send to this user
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, clock clockwork.Clock) *ConnectionManager {
	return &ConnectionManager{
		channelConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		clock:       clock,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// OnCommand sets the handler for commands read from connections. It must be
// called before any connection is upgraded.
func (cm *ConnectionManager) OnCommand(fn func(*Connection, ClientCommand)) {
	cm.onCommand = fn
}

// OnChannelEmpty sets the callback run when the last connection of a channel
// goes away.
func (cm *ConnectionManager) OnChannelEmpty(fn func(channelID string)) {
	cm.onEmpty = fn
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and registers it
// on channelID.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, user models.User, channelID string) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		User:        user,
		ChannelID:   channelID,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBuffer),
		Manager:     cm,
		ConnectedAt: cm.clock.Now(),
	}

	cm.registerConnection(connection)

	cm.wg.Add(2)
	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", user.ID).
		Str("channel_id", channelID).
		Msg("WebSocket connection established")

	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.channelConnections[conn.ChannelID] == nil {
		cm.channelConnections[conn.ChannelID] = make(map[*Connection]bool)
	}
	cm.channelConnections[conn.ChannelID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("channel_id", conn.ChannelID).
		Int("total_connections", len(cm.channelConnections[conn.ChannelID])).
		Msg("connection registered")
}

// unregisterConnection removes a connection and closes its send queue. It is
// safe to call more than once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	connections, exists := cm.channelConnections[conn.ChannelID]
	if !exists || !connections[conn] {
		cm.mu.Unlock()
		return
	}
	delete(connections, conn)
	close(conn.Send)

	empty := len(connections) == 0
	if empty {
		delete(cm.channelConnections, conn.ChannelID)
	}
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.User.ID).
		Str("channel_id", conn.ChannelID).
		Msg("connection unregistered")

	if empty && cm.onEmpty != nil {
		cm.onEmpty(conn.ChannelID)
	}
}

// BroadcastToChannel sends an event to all connections for a channel
func (cm *ConnectionManager) BroadcastToChannel(channelID string, event *ChannelEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{ChannelID: channelID, Event: event}:
	default:
		log.Warn().Str("channel_id", channelID).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastToUser sends an event to a specific user on a channel
func (cm *ConnectionManager) BroadcastToUser(channelID, userID string, event *ChannelEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{ChannelID: channelID, Event: event, UserID: userID}:
	default:
		log.Warn().
			Str("channel_id", channelID).
			Str("user_id", userID).
			Msg("broadcast channel full, dropping user message")
	}
}

// SendTo queues an event on a single connection.
func (cm *ConnectionManager) SendTo(conn *Connection, event *ChannelEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return
	}

	cm.mu.RLock()
	registered := cm.channelConnections[conn.ChannelID][conn]
	queued := registered && cm.enqueue(conn, data)
	cm.mu.RUnlock()

	if registered && !queued {
		cm.drop(conn)
	}
}

// enqueue reports false when the connection's buffer is full. Callers hold
// at least the read lock so Send is not closed underneath them.
func (cm *ConnectionManager) enqueue(conn *Connection, data []byte) bool {
	select {
	case conn.Send <- data:
		return true
	default:
		return false
	}
}

func (cm *ConnectionManager) drop(conn *Connection) {
	log.Warn().
		Str("connection_id", conn.ID).
		Str("user_id", conn.User.ID).
		Msg("connection send buffer full, closing connection")
	cm.unregisterConnection(conn)
	conn.Conn.Close()
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	var slow []*Connection
	delivered := 0

	cm.mu.RLock()
	for conn := range cm.channelConnections[message.ChannelID] {
		if message.UserID != "" && conn.User.ID != message.UserID {
			continue
		}
		if cm.enqueue(conn, eventData) {
			delivered++
		} else {
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		cm.drop(conn)
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("channel_id", message.ChannelID).
		Int("connections", delivered).
		Msg("event broadcasted")
}

// ChannelConnections returns the number of connections on a channel.
func (cm *ConnectionManager) ChannelConnections(channelID string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.channelConnections[channelID])
}

// ConnectionStats summarizes active connections.
type ConnectionStats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveChannels     int            `json:"active_channels"`
	ChannelConnections map[string]int `json:"channel_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveChannels:     len(cm.channelConnections),
		ChannelConnections: make(map[string]int, len(cm.channelConnections)),
	}
	for channelID, connections := range cm.channelConnections {
		stats.TotalConnections += len(connections)
		stats.ChannelConnections[channelID] = len(connections)
	}
	return stats
}

// Close closes every connection and waits for their pumps to exit.
func (cm *ConnectionManager) Close() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.channelConnections {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
	cm.wg.Wait()
}

func (c *Connection) writePump() {
	ticker := c.Manager.clock.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
		c.Manager.wg.Done()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.Chan():
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
		c.Manager.wg.Done()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

func (c *Connection) handleClientMessage(message []byte) {
	var cmd ClientCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Msg("ignoring malformed client message")
		return
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("user_id", c.User.ID).
		Str("command", cmd.Type).
		Msg("received client command")

	if c.Manager.onCommand != nil {
		c.Manager.onCommand(c, cmd)
	}
}
