// Package dashboard serves the session-protected backup dashboard.
package dashboard

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/labstack/echo/v4"

	"github.com/bnema/odoobackup/internal/adapters/in/http/middleware"
	"github.com/bnema/odoobackup/internal/boundaries/in"
	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
)

const (
	// DefaultBasePath is where the dashboard is mounted.
	DefaultBasePath = "/auto-backup"

	// DefaultLogLines is the log viewer window.
	DefaultLogLines = 1000

	maxLogLines = 10000
)

// Config controls the dashboard routes and login.
type Config struct {
	BasePath       string
	Password       string
	Database       string
	LogLines       int
	SessionSecret  []byte
	SecureCookie   bool
	TrustedProxies middleware.Proxies
}

// Handler implements the dashboard pages and JSON API.
type Handler struct {
	cfg      Config
	backup   in.BackupService
	schedule in.ScheduleService
	logs     in.LogService
	system   in.SystemService
	limiter  out.RateLimiter
	metrics  http.Handler
	renderer *Renderer
	log      zerowrap.Logger
}

// Deps are the services the dashboard drives. Limiter and Metrics are optional.
type Deps struct {
	Backup   in.BackupService
	Schedule in.ScheduleService
	Logs     in.LogService
	System   in.SystemService
	Limiter  out.RateLimiter
	Metrics  http.Handler
}

// NewHandler validates cfg and parses the page templates.
func NewHandler(cfg Config, deps Deps, log zerowrap.Logger) (*Handler, error) {
	if cfg.Password == "" {
		return nil, fmt.Errorf("%w: dashboard password is required", domain.ErrInvalidConfig)
	}
	if len(cfg.SessionSecret) < 32 {
		return nil, fmt.Errorf("%w: session secret must be at least 32 bytes", domain.ErrInvalidConfig)
	}
	if deps.Backup == nil || deps.Schedule == nil || deps.Logs == nil || deps.System == nil {
		return nil, fmt.Errorf("dashboard services are required")
	}

	cfg.BasePath = "/" + strings.Trim(cfg.BasePath, "/")
	if cfg.BasePath == "/" {
		cfg.BasePath = DefaultBasePath
	}
	if cfg.LogLines <= 0 {
		cfg.LogLines = DefaultLogLines
	}

	renderer, err := NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to parse dashboard templates: %w", err)
	}

	return &Handler{
		cfg:      cfg,
		backup:   deps.Backup,
		schedule: deps.Schedule,
		logs:     deps.Logs,
		system:   deps.System,
		limiter:  deps.Limiter,
		metrics:  deps.Metrics,
		renderer: renderer,
		log:      log,
	}, nil
}

// Echo builds the echo instance with the middleware chain and routes.
func (h *Handler) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = h.renderer
	e.IPExtractor = h.cfg.TrustedProxies.Extractor()

	e.Use(middleware.PanicRecovery(h.log))
	e.Use(middleware.RequestLogger(h.log))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sessions(middleware.SessionConfig{
		Secret: h.cfg.SessionSecret,
		Path:   h.cfg.BasePath,
		Secure: h.cfg.SecureCookie,
	}))

	h.Register(e)
	return e
}

// Register mounts the dashboard routes under the base path.
func (h *Handler) Register(e *echo.Echo) {
	base := e.Group(h.cfg.BasePath)
	base.GET("/login", h.handleLoginPage)
	base.POST("/login", h.handleLogin)
	base.GET("/logout", h.handleLogout)

	authed := base.Group("", middleware.RequireLogin(h.cfg.BasePath+"/login"))
	authed.GET("", h.handleIndex)
	authed.GET("/", h.handleIndex)

	authed.GET("/api/artifacts", h.handleArtifacts)
	authed.POST("/api/backup", h.handleBackup)
	authed.POST("/api/restore/:name", h.handleRestore)
	authed.POST("/api/sync", h.handleSync)
	authed.POST("/api/delete/:name", h.handleDelete)

	authed.GET("/api/disk", h.handleDisk)
	authed.GET("/api/cpu", h.handleCPU)
	authed.GET("/api/cpu_update", h.handleCPUUpdate)
	authed.GET("/api/log", h.handleLog)

	if h.metrics != nil {
		authed.GET("/metrics", echo.WrapHandler(h.metrics))
	}
}

type loginPage struct {
	BasePath string
	Error    string
}

func (h *Handler) handleLoginPage(c echo.Context) error {
	if middleware.IsAuthenticated(c) {
		return c.Redirect(http.StatusSeeOther, h.cfg.BasePath+"/")
	}
	return c.Render(http.StatusOK, "login.gohtml", loginPage{BasePath: h.cfg.BasePath})
}

func (h *Handler) handleLogin(c echo.Context) error {
	ctx := c.Request().Context()
	key := middleware.LoginKey(c)
	log := h.log.With().Str(zerowrap.FieldClientIP, c.RealIP()).Logger()

	if h.limiter != nil && !h.limiter.Allow(ctx, key) {
		return c.Render(http.StatusTooManyRequests, "login.gohtml", loginPage{
			BasePath: h.cfg.BasePath,
			Error:    "Too many attempts, try again later.",
		})
	}

	password := c.FormValue("password")
	if subtle.ConstantTimeCompare([]byte(password), []byte(h.cfg.Password)) != 1 {
		log.Warn().Msg("dashboard login failed")
		return c.Render(http.StatusUnauthorized, "login.gohtml", loginPage{
			BasePath: h.cfg.BasePath,
			Error:    "Invalid password.",
		})
	}

	if err := middleware.MarkAuthenticated(c); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if h.limiter != nil {
		h.limiter.Reset(ctx, key)
	}
	log.Info().Msg("dashboard login")
	return c.Redirect(http.StatusSeeOther, h.cfg.BasePath+"/")
}

func (h *Handler) handleLogout(c echo.Context) error {
	if err := middleware.ClearSession(c); err != nil {
		h.log.Debug().Err(err).Msg("no session to clear")
	}
	return c.Redirect(http.StatusSeeOther, h.cfg.BasePath+"/login")
}

type indexPage struct {
	BasePath  string
	Database  string
	Artifacts []domain.Artifact
	NextRun   time.Time
	LastError string
}

func (h *Handler) handleIndex(c echo.Context) error {
	artifacts, err := h.backup.ListArtifacts(c.Request().Context())
	if err != nil {
		return err
	}
	domain.SortForDisplay(artifacts)

	page := indexPage{
		BasePath:  h.cfg.BasePath,
		Database:  h.cfg.Database,
		Artifacts: artifacts,
	}
	if entries := h.schedule.List(); len(entries) > 0 {
		page.NextRun = entries[0].NextRun
		page.LastError = entries[0].LastError
	}
	return c.Render(http.StatusOK, "index.gohtml", page)
}

func (h *Handler) handleArtifacts(c echo.Context) error {
	artifacts, err := h.backup.ListArtifacts(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	domain.SortForDisplay(artifacts)
	return c.JSON(http.StatusOK, artifacts)
}

type cycleResponse struct {
	Summary *domain.CycleSummary `json:"summary,omitempty"`
	Error   string               `json:"error,omitempty"`
}

func (h *Handler) handleBackup(c echo.Context) error {
	summary, err := h.backup.ProduceAndRetain(c.Request().Context())
	resp := cycleResponse{Summary: summary}
	if err != nil {
		resp.Error = err.Error()
		return c.JSON(statusFor(err), resp)
	}
	return c.JSON(http.StatusOK, resp)
}

type restoreResponse struct {
	Outcome *domain.RestoreOutcome `json:"outcome,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func (h *Handler) handleRestore(c echo.Context) error {
	req := domain.RestoreRequest{
		ArtifactName:   c.Param("name"),
		TargetDatabase: c.QueryParam("db"),
	}
	if raw := c.QueryParam("sync"); raw != "" {
		sync, err := strconv.ParseBool(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "sync must be a boolean"})
		}
		req.SyncFirst = sync
	}

	outcome, err := h.backup.Restore(c.Request().Context(), req)
	resp := restoreResponse{Outcome: outcome}
	if err != nil {
		resp.Error = err.Error()
		return c.JSON(statusFor(err), resp)
	}
	return c.JSON(http.StatusOK, resp)
}

type syncResponse struct {
	Summary *domain.SyncSummary `json:"summary,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func (h *Handler) handleSync(c echo.Context) error {
	summary, err := h.backup.SyncFromRemote(c.Request().Context())
	resp := syncResponse{Summary: summary}
	if err != nil {
		resp.Error = err.Error()
		return c.JSON(statusFor(err), resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleDelete(c echo.Context) error {
	name := c.Param("name")
	if err := h.backup.DeleteArtifact(c.Request().Context(), name); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"deleted": name})
}

func (h *Handler) handleDisk(c echo.Context) error {
	usage, err := h.system.Disk(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, usage)
}

func (h *Handler) handleCPU(c echo.Context) error {
	info, err := h.system.CPU(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

func (h *Handler) handleCPUUpdate(c echo.Context) error {
	usage, err := h.system.Usage(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, usage)
}

func (h *Handler) handleLog(c echo.Context) error {
	lines := h.cfg.LogLines
	if raw := c.QueryParam("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "lines must be a positive integer"})
		}
		lines = min(n, maxLogLines)
	}

	logLines, err := h.logs.GetProcessLogs(c.Request().Context(), lines)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, logLines)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) fail(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str(zerowrap.FieldPath, c.Path()).Msg("dashboard request failed")
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArtifactName),
		errors.Is(err, domain.ErrUnsupportedArtifact),
		errors.Is(err, domain.ErrTopologyUnavailable):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrArtifactMissing):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCycleInProgress),
		errors.Is(err, domain.ErrRemoteDisabled),
		errors.Is(err, domain.ErrArtifactExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUpstreamUnavailable),
		errors.Is(err, domain.ErrUpstreamRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
