package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"auction-site/internal/clock"
	"auction-site/internal/config"
	"auction-site/internal/domain"
	"auction-site/internal/host"
	"auction-site/internal/infrastructure/leader"
	"auction-site/internal/infrastructure/mysql"
	redisinfra "auction-site/internal/infrastructure/redis"
	"auction-site/internal/services"
	"auction-site/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type SiteHandler struct {
	sites *host.Host
	log   logger.Logger
}

func NewSiteHandler(sites *host.Host, log logger.Logger) *SiteHandler {
	return &SiteHandler{sites: sites, log: log}
}

type CreateSiteRequest struct {
	Name                     string  `json:"name"`
	Timezone                 int     `json:"timezone"`
	SessionExpirationSeconds int     `json:"session_expiration_seconds"`
	MinimumBidIncrement      float64 `json:"minimum_bid_increment"`
}

type SiteResponse struct {
	Name                     string  `json:"name"`
	Timezone                 int     `json:"timezone"`
	SessionExpirationSeconds int     `json:"session_expiration_seconds"`
	MinimumBidIncrement      float64 `json:"minimum_bid_increment"`
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SessionResponse struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	ValidUntil time.Time `json:"valid_until"`
	State      string    `json:"state"`
}

type LogoutRequest struct {
	SessionID string `json:"session_id"`
}

type CreateAuctionRequest struct {
	SessionID     string    `json:"session_id"`
	Description   string    `json:"description"`
	EndsOn        time.Time `json:"ends_on"`
	StartingPrice float64   `json:"starting_price"`
}

type AuctionResponse struct {
	ID            int64     `json:"id"`
	Seller        string    `json:"seller"`
	Description   string    `json:"description"`
	EndsOn        time.Time `json:"ends_on"`
	StartingPrice float64   `json:"starting_price"`
	CurrentPrice  float64   `json:"current_price"`
	CurrentWinner string    `json:"current_winner,omitempty"`
	Ended         bool      `json:"ended"`
	BidCount      int       `json:"bid_count"`
}

type PlaceBidRequest struct {
	SessionID string  `json:"session_id"`
	Amount    float64 `json:"amount"`
}

type PlaceBidResponse struct {
	Accepted      bool    `json:"accepted"`
	CurrentPrice  float64 `json:"current_price"`
	CurrentWinner string  `json:"current_winner,omitempty"`
}

// statusFor maps the domain error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindSessionAlreadyActive,
		domain.KindAuctionEnded, domain.KindInvalidOperation:
		return http.StatusConflict
	case domain.KindInvalidCredentials, domain.KindSessionExpired:
		return http.StatusUnauthorized
	case domain.KindStorageUnavailable, domain.KindClockUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c echo.Context, err error) error {
	return c.JSON(statusFor(err), map[string]string{
		"error": err.Error(),
		"kind":  domain.KindOf(err).String(),
	})
}

func auctionResponse(a *domain.Auction) AuctionResponse {
	return AuctionResponse{
		ID:            a.ID,
		Seller:        a.Seller,
		Description:   a.Description,
		EndsOn:        a.EndsOn,
		StartingPrice: a.StartingPrice,
		CurrentPrice:  a.CurrentPrice,
		CurrentWinner: a.WinnerID,
		Ended:         a.Ended,
		BidCount:      len(a.Bids),
	}
}

func sessionResponse(s *domain.Session) SessionResponse {
	return SessionResponse{
		ID:         s.ID,
		Username:   s.Username,
		ValidUntil: s.ValidUntil,
		State:      s.State.String(),
	}
}

func (h *SiteHandler) CreateSite(c echo.Context) error {
	var req CreateSiteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	err := h.sites.CreateSite(c.Request().Context(), req.Name, req.Timezone,
		req.SessionExpirationSeconds, req.MinimumBidIncrement)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusCreated, SiteResponse{
		Name:                     req.Name,
		Timezone:                 req.Timezone,
		SessionExpirationSeconds: req.SessionExpirationSeconds,
		MinimumBidIncrement:      req.MinimumBidIncrement,
	})
}

func (h *SiteHandler) ListSites(c echo.Context) error {
	sites, err := h.sites.SiteInfos(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}

	resp := make([]SiteResponse, 0, len(sites))
	for _, s := range sites {
		resp = append(resp, SiteResponse{
			Name:                     s.Name,
			Timezone:                 s.Timezone,
			SessionExpirationSeconds: s.SessionExpirationSeconds,
			MinimumBidIncrement:      s.MinimumBidIncrement,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *SiteHandler) GetSite(c echo.Context) error {
	coordinator, err := h.sites.LoadSite(c.Request().Context(), c.Param("site"))
	if err != nil {
		return fail(c, err)
	}
	cfg := coordinator.Config()
	return c.JSON(http.StatusOK, SiteResponse{
		Name:                     cfg.Name,
		Timezone:                 cfg.Timezone,
		SessionExpirationSeconds: cfg.SessionExpirationSeconds,
		MinimumBidIncrement:      cfg.MinimumBidIncrement,
	})
}

func (h *SiteHandler) DeleteSite(c echo.Context) error {
	if err := h.sites.DeleteSite(c.Request().Context(), c.Param("site")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SiteHandler) SiteNow(c echo.Context) error {
	coordinator, err := h.sites.LoadSite(c.Request().Context(), c.Param("site"))
	if err != nil {
		return fail(c, err)
	}
	now, err := coordinator.Now()
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"now": now.Format(time.RFC3339)})
}

func (h *SiteHandler) CreateUser(c echo.Context) error {
	var req CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	coordinator, err := h.sites.LoadSite(c.Request().Context(), c.Param("site"))
	if err != nil {
		return fail(c, err)
	}
	if err := coordinator.CreateUser(c.Request().Context(), req.Username, req.Password); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"username": req.Username})
}

func (h *SiteHandler) ListUsers(c echo.Context) error {
	coordinator, err := h.sites.LoadSite(c.Request().Context(), c.Param("site"))
	if err != nil {
		return fail(c, err)
	}
	users, err := coordinator.Users(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}

	usernames := make([]string, 0, len(users))
	for _, u := range users {
		usernames = append(usernames, u.Username)
	}
	return c.JSON(http.StatusOK, usernames)
}

func (h *SiteHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	coordinator, err := h.sites.LoadSite(c.Request().Context(), c.Param("site"))
	if err != nil {
		return fail(c, err)
	}
	session, err := coordinator.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, sessionResponse(session))
}

func (h *SiteHandler) Logout(c echo.Context) error {
	var req LogoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	coordinator, err := h.sites.LoadSite(c.Request().Context(), c.Param("site"))
	if err != nil {
		return fail(c, err)
	}
	if err := coordinator.Logout(c.Request().Context(), req.SessionID); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SiteHandler) ListSessions(c echo.Context) error {
	coordinator, err := h.sites.LoadSite(c.Request().Context(), c.Param("site"))
	if err != nil {
		return fail(c, err)
	}
	sessions, err := coordinator.Sessions(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, sessionResponse(s))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *SiteHandler) CreateAuction(c echo.Context) error {
	var req CreateAuctionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	coordinator, err := h.sites.LoadSite(c.Request().Context(), c.Param("site"))
	if err != nil {
		return fail(c, err)
	}
	auction, err := coordinator.CreateAuction(c.Request().Context(),
		req.SessionID, req.Description, req.EndsOn, req.StartingPrice)
	if err != nil {
		return fail(c, err)
	}

	h.log.Info("Auction created via API", "site", c.Param("site"), "auction_id", auction.ID)
	return c.JSON(http.StatusCreated, auctionResponse(auction))
}

func (h *SiteHandler) ListAuctions(c echo.Context) error {
	coordinator, err := h.sites.LoadSite(c.Request().Context(), c.Param("site"))
	if err != nil {
		return fail(c, err)
	}

	onlyOpen, _ := strconv.ParseBool(c.QueryParam("only_open"))
	auctions, err := coordinator.Auctions(c.Request().Context(), onlyOpen)
	if err != nil {
		return fail(c, err)
	}

	resp := make([]AuctionResponse, 0, len(auctions))
	for _, a := range auctions {
		resp = append(resp, auctionResponse(a))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *SiteHandler) GetAuction(c echo.Context) error {
	coordinator, err := h.sites.LoadSite(c.Request().Context(), c.Param("site"))
	if err != nil {
		return fail(c, err)
	}
	auctionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid auction id"})
	}
	auction, err := coordinator.Engine().Get(c.Request().Context(), auctionID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, auctionResponse(auction))
}

func (h *SiteHandler) PlaceBid(c echo.Context) error {
	var req PlaceBidRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	coordinator, err := h.sites.LoadSite(c.Request().Context(), c.Param("site"))
	if err != nil {
		return fail(c, err)
	}
	auctionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid auction id"})
	}

	outcome, err := coordinator.PlaceBid(c.Request().Context(), req.SessionID, auctionID, req.Amount)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, PlaceBidResponse{
		Accepted:      outcome.Accepted,
		CurrentPrice:  outcome.Price,
		CurrentWinner: outcome.Winner,
	})
}

func (h *SiteHandler) DeleteAuction(c echo.Context) error {
	coordinator, err := h.sites.LoadSite(c.Request().Context(), c.Param("site"))
	if err != nil {
		return fail(c, err)
	}
	auctionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid auction id"})
	}

	sessionID := c.QueryParam("session_id")
	if err := coordinator.DeleteAuction(c.Request().Context(), sessionID, auctionID); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func main() {
	log := logger.New()
	log.Info("Starting site service")

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Redis
	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close MySQL connection", "error", err)
		}
	}()

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.Error("Failed to ping MySQL", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to MySQL")

	// Collaborators
	store := mysql.NewStore(db)
	jobs := mysql.NewSchedulerRepository(db)
	events := redisinfra.NewEventPublisher(rdb)
	clocks := clock.NewFactory(clock.NewSystemTimeSource())
	leaderElection := leader.NewRedisLeaderElection(rdb, cfg.Leader.TTL)

	sites := host.New(store, clocks, events, jobs, log)
	sweeper := services.NewCloseSweeper(jobs, sites, leaderElection, cfg.Instance.ID, log)

	// HTTP
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestID())
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: `{"time":"${time_rfc3339}","id":"${id}","remote_ip":"${remote_ip}","host":"${host}","method":"${method}","uri":"${uri}","status":${status},"error":"${error}","latency":${latency},"bytes_in":${bytes_in},"bytes_out":${bytes_out}}` + "\n",
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	handler := NewSiteHandler(sites, log)

	api := e.Group("/api/v1")
	api.POST("/sites", handler.CreateSite)
	api.GET("/sites", handler.ListSites)
	api.GET("/sites/:site", handler.GetSite)
	api.DELETE("/sites/:site", handler.DeleteSite)
	api.GET("/sites/:site/now", handler.SiteNow)
	api.POST("/sites/:site/users", handler.CreateUser)
	api.GET("/sites/:site/users", handler.ListUsers)
	api.POST("/sites/:site/login", handler.Login)
	api.POST("/sites/:site/logout", handler.Logout)
	api.GET("/sites/:site/sessions", handler.ListSessions)
	api.POST("/sites/:site/auctions", handler.CreateAuction)
	api.GET("/sites/:site/auctions", handler.ListAuctions)
	api.GET("/sites/:site/auctions/:id", handler.GetAuction)
	api.POST("/sites/:site/auctions/:id/bids", handler.PlaceBid)
	api.DELETE("/sites/:site/auctions/:id", handler.DeleteAuction)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "site-service",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Background services
	go func() {
		if err := sweeper.Start(context.Background()); err != nil {
			log.Error("Failed to start close sweeper", "error", err)
		}
	}()

	go func() {
		for {
			became, err := leaderElection.BecomeLeader(context.Background(), cfg.Instance.ID)
			if err != nil {
				log.Error("Failed to attempt leadership", "error", err)
				time.Sleep(5 * time.Second)
				continue
			}
			if became {
				log.Info("Became sweeper leader", "instance_id", cfg.Instance.ID)
			}
			time.Sleep(10 * time.Second)
		}
	}()

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("Starting site service server", "address", serverAddr)

	go func() {
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down site service...")

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sweeper.Stop(); err != nil {
		log.Error("Failed to stop close sweeper", "error", err)
	}
	if err := leaderElection.ReleaseLeadership(ctx, cfg.Instance.ID); err != nil {
		log.Error("Failed to release leadership", "error", err)
	}
	if err := e.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Site service stopped")
}
