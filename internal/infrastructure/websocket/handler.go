package websocket

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"auction-site/internal/domain"
	"auction-site/internal/host"
	"auction-site/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // deployments front this with a gateway
	},
}

// AuctionKey is the broadcast channel identity for one auction.
func AuctionKey(site string, auctionID int64) string {
	return fmt.Sprintf("%s/%d", site, auctionID)
}

// Handler upgrades watcher requests and keeps the connection registered
// until the peer goes away.
type Handler struct {
	sites       *host.Host
	connManager domain.ConnectionManager
	log         logger.Logger
}

func NewHandler(sites *host.Host, connManager domain.ConnectionManager, log logger.Logger) *Handler {
	return &Handler{
		sites:       sites,
		connManager: connManager,
		log:         log,
	}
}

// HandleConnection serves GET /ws/sites/{site}/auctions/{auctionID}?username=...
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	siteName := vars["site"]

	auctionID, err := strconv.ParseInt(vars["auctionID"], 10, 64)
	if err != nil {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}

	username := r.URL.Query().Get("username")
	if username == "" {
		http.Error(w, "username required", http.StatusBadRequest)
		return
	}

	coordinator, err := h.sites.LoadSite(r.Context(), siteName)
	if err != nil {
		h.log.Error("Failed to load site", "site", siteName, "error", err)
		http.Error(w, "site not found", http.StatusNotFound)
		return
	}

	auction, err := coordinator.Engine().Get(r.Context(), auctionID)
	if err != nil {
		h.log.Error("Failed to find auction", "site", siteName,
			"auction_id", auctionID, "error", err)
		http.Error(w, "auction not found", http.StatusNotFound)
		return
	}
	if auction.Ended {
		http.Error(w, "auction has already ended", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	key := AuctionKey(siteName, auctionID)
	wsConn := NewConnection(conn, username, key, h.log)

	if err := h.connManager.RegisterConnection(username, key, wsConn); err != nil {
		h.log.Error("Failed to register connection", "error", err)
		_ = conn.Close()
		return
	}

	go h.readLoop(wsConn, username, key)
}

// readLoop drains the peer so pings and close frames are processed, and
// unregisters when the connection drops.
func (h *Handler) readLoop(conn *Connection, username, auctionKey string) {
	defer func() {
		_ = h.connManager.UnregisterConnection(username, auctionKey)
		_ = conn.Close()
	}()

	for {
		var msg map[string]interface{}
		if err := conn.conn.ReadJSON(&msg); err != nil {
			return
		}

		if msgType, ok := msg["type"].(string); ok && msgType == "ping" {
			_ = conn.Send(map[string]string{"type": "pong"})
		}
	}
}
