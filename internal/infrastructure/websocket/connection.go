package websocket

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"auction-site/pkg/logger"
)

// Connection wraps a gorilla websocket with a write lock; gorilla allows
// at most one concurrent writer per connection.
type Connection struct {
	conn       *websocket.Conn
	username   string
	auctionKey string
	writeMutex sync.Mutex
	log        logger.Logger
}

func NewConnection(conn *websocket.Conn, username, auctionKey string, log logger.Logger) *Connection {
	return &Connection{
		conn:       conn,
		username:   username,
		auctionKey: auctionKey,
		log:        log,
	}
}

func (c *Connection) Send(message interface{}) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	switch m := message.(type) {
	case []byte:
		return c.conn.WriteMessage(websocket.TextMessage, m)
	default:
		payload, err := json.Marshal(message)
		if err != nil {
			return err
		}
		return c.conn.WriteMessage(websocket.TextMessage, payload)
	}
}

func (c *Connection) Close() error {
	return c.conn.Close()
}

func (c *Connection) Username() string   { return c.username }
func (c *Connection) AuctionKey() string { return c.auctionKey }
