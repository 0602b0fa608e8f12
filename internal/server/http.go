package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/muurk/rotlink/internal/logging"
	"github.com/muurk/rotlink/internal/session"
	"github.com/muurk/rotlink/internal/store"
	"github.com/muurk/rotlink/internal/version"
	"go.uber.org/zap"
)

// PasswordHeader carries the access password on the JSON endpoints.
const PasswordHeader = "X-Access-Password"

const maxPasswordBody = 4096

// RouterConfig wires the HTTP application to the server's components.
type RouterConfig struct {
	// AccessPassword guards /api. Empty leaves the API unregistered.
	AccessPassword string
	// PublicDir is served for unknown GET paths. Empty disables it.
	PublicDir string

	Registry *session.Registry
	Data     *DataTable
	Feed     *Feed
	Metrics  *Metrics
	// Store is optional and enables /api/history.
	Store *store.EventStore
}

type broadcastRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type api struct {
	cfg    RouterConfig
	static http.FileSystem
}

// NewRouter builds the gin engine served on the HTTP side of the port.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware())
	router.Use(LoggingMiddleware())

	a := &api{cfg: cfg}
	if cfg.PublicDir != "" {
		a.static = gin.Dir(cfg.PublicDir, false)
	}

	router.GET("/healthz", a.handleHealth)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	if cfg.AccessPassword != "" {
		router.POST("/api/data", a.handleData)

		guarded := router.Group("/api", a.requirePassword())
		{
			guarded.GET("/sessions", a.handleSessions)
			guarded.POST("/broadcast", a.handleBroadcast)
			if cfg.Feed != nil {
				guarded.GET("/events", gin.WrapH(cfg.Feed))
			}
			if cfg.Store != nil {
				guarded.GET("/history", a.handleHistory)
			}
		}
	}

	router.NoRoute(a.handleStatic)
	return router
}

// CORSMiddleware sets the CORS headers on every response and answers
// preflight requests.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "OPTIONS, POST, GET")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+PasswordHeader)
		h.Set("Access-Control-Max-Age", "2592000")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggingMiddleware logs each request through the package logger.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", c.Request.RemoteAddr),
		)
	}
}

func (a *api) passwordOK(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(a.cfg.AccessPassword)) == 1
}

// requirePassword accepts the password from PasswordHeader or, for
// browsers opening a websocket, the password query parameter.
func (a *api) requirePassword() gin.HandlerFunc {
	return func(c *gin.Context) {
		candidate := c.GetHeader(PasswordHeader)
		if candidate == "" {
			candidate = c.Query("password")
		}
		if !a.passwordOK(candidate) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func (a *api) handleHealth(c *gin.Context) {
	info := version.Get()
	resp := gin.H{
		"status":  "ok",
		"version": info.Version,
		"commit":  info.Commit,
	}
	if a.cfg.Registry != nil {
		resp["sessions"] = a.cfg.Registry.Len()
	}
	c.JSON(http.StatusOK, resp)
}

// handleData takes the access password as the raw request body.
func (a *api) handleData(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPasswordBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if !a.passwordOK(strings.TrimRight(string(body), "\r\n")) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	data := map[string]json.RawMessage{}
	if a.cfg.Data != nil {
		data = a.cfg.Data.Snapshot()
	}
	c.JSON(http.StatusOK, data)
}

func (a *api) handleSessions(c *gin.Context) {
	usernames := []string{}
	if a.cfg.Registry != nil {
		usernames = a.cfg.Registry.Usernames()
	}
	c.JSON(http.StatusOK, gin.H{"sessions": usernames})
}

func (a *api) handleBroadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	if a.cfg.Registry == nil {
		c.JSON(http.StatusOK, gin.H{"sent": 0})
		return
	}

	if req.To == "" {
		c.JSON(http.StatusOK, gin.H{"sent": a.cfg.Registry.Broadcast(req.Text)})
		return
	}

	peer, ok := a.cfg.Registry.Lookup(req.To)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session for " + req.To})
		return
	}
	if err := peer.SendMessage(req.Text); err != nil {
		logging.Warn("Directed message failed", zap.String("username", req.To), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": 1})
}

func (a *api) handleHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	events, err := a.cfg.Store.Recent(c.Query("username"), limit)
	if err != nil {
		logging.Error("History query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	if events == nil {
		events = []session.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// handleStatic serves files from the public directory. Directories other
// than the root index, and anything missing, get the 404 page.
func (a *api) handleStatic(c *gin.Context) {
	if a.static == nil || (c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead) {
		notFound(c)
		return
	}

	name := path.Clean("/" + c.Request.URL.Path)
	target := name
	if name == "/" {
		target = "/index.html"
	}
	f, err := a.static.Open(target)
	if err != nil {
		notFound(c)
		return
	}
	stat, err := f.Stat()
	_ = f.Close()
	if err != nil || stat.IsDir() {
		notFound(c)
		return
	}
	c.FileFromFS(name, a.static)
}

const notFoundPage = `<!DOCTYPE html>
<html>
<head><title>Page not found</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 20%">
<h1>404</h1>
<p>The page or resource you requested cannot be served.</p>
</body>
</html>
`

func notFound(c *gin.Context) {
	c.Data(http.StatusNotFound, "text/html; charset=utf-8", []byte(notFoundPage))
}

// NewRedirectRouter answers every request with a 301 to the https
// equivalent of the requested URL.
func NewRedirectRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.NoRoute(func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "https://"+c.Request.Host+c.Request.URL.RequestURI())
	})
	return router
}

func ignoreServerClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
