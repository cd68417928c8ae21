// Package webapi is the thin HTTP boundary around the quota engine: a
// reporting endpoint for clients, a polling snapshot for the dashboard, and
// admin budget actions. All ledger semantics live in pkg/playtime.
package webapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/soferio/minertimer/internal/metrics"
	"github.com/soferio/minertimer/pkg/playtime"
	"go.uber.org/zap"
)

const (
	headerAPIToken   = "X-API-Token"
	apiActorName     = "api"
	shutdownDeadline = 5 * time.Second
)

// Server wires the gin router around the quota engine.
type Server struct {
	cfg       Config
	service   *playtime.Service
	directory playtime.Directory
	logger    *zap.Logger
}

// NewServer validates the configuration and returns a Server.
func NewServer(cfg Config, service *playtime.Service, directory playtime.Directory, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if service == nil {
		return nil, fmt.Errorf("service dependency is nil")
	}
	if directory == nil {
		return nil, fmt.Errorf("directory dependency is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, service: service, directory: directory, logger: logger}, nil
}

// Run serves HTTP until the context is cancelled.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("webapi listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router builds the gin engine.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())
	if len(server.cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     server.cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept", headerAPIToken},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	router.GET("/update/:player/:day/:played/:max", server.handleUpdate)
	router.POST("/login", server.handleLogin)
	router.GET("/logout", server.handleLogout)

	api := router.Group("/api")
	api.GET("/players", server.handlePlayers)
	api.POST("/increase", server.handleIncrease)
	api.POST("/stop", server.handleStop)

	return router
}

// handleUpdate merges one usage report and answers the effective budget as
// plain text, which is all the reporting script consumes.
func (server *Server) handleUpdate(ctx *gin.Context) {
	if server.cfg.APIToken != "" && ctx.GetHeader(headerAPIToken) != server.cfg.APIToken {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing or invalid api token"))
		return
	}
	player, err := playtime.NewPlayerName(ctx.Param("player"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_player", "player must match \\w+"))
		return
	}
	day, err := playtime.NewCalendarDay(ctx.Param("day"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_day", "day must be YYYY-MM-DD"))
		return
	}
	playedRaw, err := strconv.ParseInt(ctx.Param("played"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_played", "played must be an integer"))
		return
	}
	played, err := playtime.NewPlayedSeconds(playedRaw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_played", "played must not be negative"))
		return
	}
	claimedRaw, err := strconv.ParseInt(ctx.Param("max"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_max", "max must be an integer"))
		return
	}
	claimed, err := playtime.NewBudgetSeconds(claimedRaw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_max", "max must be positive"))
		return
	}

	budget, err := server.service.Report(ctx.Request.Context(), player, day, played, claimed)
	metrics.ObserveReport(err)
	if err != nil {
		server.logger.Error("report failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", "report failed"))
		return
	}
	ctx.String(http.StatusOK, strconv.FormatInt(budget.Int64(), 10))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (server *Server) handleLogin(ctx *gin.Context) {
	var request loginRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	name, err := playtime.NewPlayerName(request.Username)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("login_failed", "login failed"))
		return
	}
	account, err := server.service.Authenticate(ctx.Request.Context(), name, request.Password)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("login_failed", "login failed"))
		return
	}
	token, err := server.issueSessionToken(account.Name.String(), time.Now())
	if err != nil {
		server.logger.Error("session token issue failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("session_error", "could not create session"))
		return
	}
	server.setSessionCookie(ctx, token, int(server.cfg.SessionTTL.Seconds()))
	ctx.JSON(http.StatusOK, gin.H{
		"user": account.Name.String(),
		"role": account.Role.String(),
	})
}

func (server *Server) handleLogout(ctx *gin.Context) {
	server.clearSessionCookie(ctx)
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (server *Server) handlePlayers(ctx *gin.Context) {
	viewer, ok := server.viewerAccount(ctx)
	if !ok {
		return
	}
	day := server.service.Today()
	if rawDay := ctx.Query("day"); rawDay != "" {
		parsed, err := playtime.NewCalendarDay(rawDay)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_day", "day must be YYYY-MM-DD"))
			return
		}
		day = parsed
	}
	snapshot, err := server.service.SnapshotForViewer(ctx.Request.Context(), day, viewer)
	if err != nil {
		server.logger.Error("snapshot failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", "snapshot unavailable"))
		return
	}
	players := make(map[string]playerPayload, len(snapshot.Players))
	for name, status := range snapshot.Players {
		players[name.String()] = playerPayload{
			PlayedSeconds:      status.Played.Int64(),
			BudgetSeconds:      status.Budget.Int64(),
			MinutesSinceUpdate: status.MinutesSinceUpdate,
			Exhausted:          status.Exhausted(),
		}
	}
	ctx.JSON(http.StatusOK, gin.H{
		"day":     snapshot.Day.String(),
		"viewer":  viewer.Name.String(),
		"admin":   viewer.Role == playtime.RoleAdministrator,
		"players": players,
	})
}

type adjustRequest struct {
	Player          string `json:"player"`
	NewTotalSeconds int64  `json:"new_total_seconds"`
}

func (server *Server) handleIncrease(ctx *gin.Context) {
	viewer, ok := server.viewerAccount(ctx)
	if !ok {
		return
	}
	var request adjustRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	player, err := playtime.NewPlayerName(request.Player)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_player", "player must match \\w+"))
		return
	}
	newTotal, err := playtime.NewBudgetSeconds(request.NewTotalSeconds)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_total", "new_total_seconds must be positive"))
		return
	}
	record, err := server.service.IncreaseBudget(ctx.Request.Context(), viewer, player, newTotal)
	metrics.ObserveAdjustment(string(playtime.AdjustIncrease), err)
	if err != nil {
		server.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"record": recordPayloadFrom(record)})
}

type stopRequest struct {
	Player string `json:"player"`
}

func (server *Server) handleStop(ctx *gin.Context) {
	viewer, ok := server.viewerAccount(ctx)
	if !ok {
		return
	}
	var request stopRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	player, err := playtime.NewPlayerName(request.Player)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_player", "player must match \\w+"))
		return
	}
	record, err := server.service.StopPlaytime(ctx.Request.Context(), viewer, player)
	metrics.ObserveAdjustment(string(playtime.AdjustStop), err)
	if err != nil {
		server.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"record": recordPayloadFrom(record)})
}

// viewerAccount resolves the acting account: a configured API token acts as
// a synthetic administrator, otherwise the session name is re-resolved
// against the directory on every request. A session whose account vanished
// from the directory is cleared, mirroring the credential file being the
// single source of truth.
func (server *Server) viewerAccount(ctx *gin.Context) (playtime.UserAccount, bool) {
	if server.cfg.APIToken != "" && ctx.GetHeader(headerAPIToken) == server.cfg.APIToken {
		name, err := playtime.NewPlayerName(apiActorName)
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "api actor unavailable"))
			return playtime.UserAccount{}, false
		}
		return playtime.UserAccount{Name: name, Role: playtime.RoleAdministrator}, true
	}
	username, err := server.sessionUsername(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return playtime.UserAccount{}, false
	}
	name, err := playtime.NewPlayerName(username)
	if err != nil {
		server.clearSessionCookie(ctx)
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session"))
		return playtime.UserAccount{}, false
	}
	account, found, err := server.directory.Lookup(ctx.Request.Context(), name)
	if err != nil {
		ctx.JSON(http.StatusBadGateway, errorResponse("directory_error", "directory unavailable"))
		return playtime.UserAccount{}, false
	}
	if !found {
		server.clearSessionCookie(ctx)
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "unknown account"))
		return playtime.UserAccount{}, false
	}
	return account, true
}

func (server *Server) respondDomainError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, playtime.ErrPermissionDenied):
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "administrator required"))
	case errors.Is(err, playtime.ErrUnknownPlayer):
		ctx.JSON(http.StatusBadRequest, errorResponse("unknown_player", "player not in directory"))
	case errors.Is(err, playtime.ErrInvalidPlayerName),
		errors.Is(err, playtime.ErrInvalidCalendarDay),
		errors.Is(err, playtime.ErrInvalidPlayedSeconds),
		errors.Is(err, playtime.ErrInvalidBudgetSeconds):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	default:
		server.logger.Error("operation failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", "operation failed"))
	}
}

type playerPayload struct {
	PlayedSeconds      int64  `json:"played_seconds"`
	BudgetSeconds      int64  `json:"budget_seconds"`
	MinutesSinceUpdate *int64 `json:"minutes_since_update"`
	Exhausted          bool   `json:"exhausted"`
}

type recordPayload struct {
	Player         string `json:"player"`
	Day            string `json:"day"`
	PlayedSeconds  int64  `json:"played_seconds"`
	BudgetSeconds  int64  `json:"budget_seconds"`
	State          string `json:"state"`
	UpdatedUnixUTC int64  `json:"updated_unix_utc"`
}

func recordPayloadFrom(record playtime.UsageRecord) recordPayload {
	return recordPayload{
		Player:         record.Player.String(),
		Day:            record.Day.String(),
		PlayedSeconds:  record.Played.Int64(),
		BudgetSeconds:  record.Budget.Int64(),
		State:          string(record.State()),
		UpdatedUnixUTC: record.UpdatedUnixUTC,
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
