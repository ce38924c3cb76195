// Package dashboard serves a local read-only HTTP view of the running
// server: JSON status endpoints, Prometheus metrics and a websocket that
// pushes catalog and tool activity.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"mcpindex/internal/catalog"
	"mcpindex/internal/config"
	"mcpindex/internal/logging"
	"mcpindex/internal/metrics"
	"mcpindex/internal/session"
	"mcpindex/internal/tools"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Deps are the components the dashboard reads from. Usage and Sessions
// may be nil.
type Deps struct {
	Name     string
	Version  string
	Config   config.DashboardConfig
	Catalog  *catalog.Catalog
	Metrics  *metrics.Recorder
	Usage    *catalog.UsageTracker
	Sessions *session.Store
	Tools    func() []tools.Info
	Logger   *logging.AppLogger
}

type Server struct {
	deps    Deps
	logger  *logging.AppLogger
	engine  *gin.Engine
	hub     *hub
	started time.Time

	upgrader websocket.Upgrader

	mu       sync.Mutex
	ln       net.Listener
	httpSrv  *http.Server
	shutdown bool

	conns sync.WaitGroup
}

func New(deps Deps) (*Server, error) {
	if deps.Catalog == nil || deps.Metrics == nil {
		return nil, errors.New("dashboard needs a catalog and a metrics recorder")
	}
	if deps.Logger == nil {
		deps.Logger = logging.GetDefault()
	}
	if deps.Config.PushInterval <= 0 {
		deps.Config.PushInterval = config.DefaultPushInterval
	}
	if deps.Tools == nil {
		deps.Tools = func() []tools.Info { return nil }
	}

	s := &Server{
		deps:    deps,
		logger:  deps.Logger.With("component", "dashboard"),
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     sameHostOrigin,
		},
	}
	s.hub = newHub(s.logger, deps.Metrics.SetWebSocketClients)
	s.engine = s.routes()

	deps.Catalog.OnChange(func(ev catalog.Event) {
		s.hub.broadcast(TypeCatalogChanged, ev)
	})
	deps.Metrics.OnToolCall(func(obs metrics.Observation) {
		s.hub.broadcast(TypeToolCall, obs)
	})
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	r.GET("/ws", s.handleWS)

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/tools", s.handleTools)
	api.GET("/metrics", s.handleMetrics)
	api.GET("/instructions", s.handleInstructions)
	api.GET("/instructions/:id", s.handleInstruction)
	api.GET("/usage/hotset", s.handleHotset)
	api.GET("/sessions", s.handleSessions)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// sameHostOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests from the dashboard's own host.
func sameHostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// Listen binds the configured address. Run calls it when needed; calling it
// first lets callers read Addr before serving.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.deps.Config.Addr())
	if err != nil {
		return fmt.Errorf("dashboard listen on %s: %w", s.deps.Config.Addr(), err)
	}
	s.ln = ln
	return nil
}

// Addr is the bound address, empty before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Run serves until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.httpSrv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	srv, ln := s.httpSrv, s.ln
	s.mu.Unlock()

	s.logger.Info("Dashboard listening", "addr", ln.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	ticker := time.NewTicker(s.deps.Config.PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.Shutdown(shutdownCtx)
		case err, ok := <-serveErr:
			if ok {
				return err
			}
			return nil
		case <-ticker.C:
			if s.hub.count() > 0 {
				s.hub.broadcast(TypeMetrics, s.deps.Metrics.Snapshot())
			}
		}
	}
}

// Shutdown disconnects websocket clients and stops the HTTP server. It is
// safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	srv, ln := s.httpSrv, s.ln
	s.mu.Unlock()

	s.hub.closeAll()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	} else if ln != nil {
		err = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// track registers a websocket connection with the shutdown wait group. It
// refuses once Shutdown has started, so Add never races with Wait.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.conns.Add(1)
	return true
}

func (s *Server) handleWS(c *gin.Context) {
	if !s.track() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
		return
	}
	defer s.conns.Done()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	cl := &client{conn: conn, send: make(chan []byte, sendQueueSize)}
	if s.deps.Sessions != nil {
		sess, err := s.deps.Sessions.Start(ctx, session.KindWebSocket, c.Request.RemoteAddr, c.Request.UserAgent())
		if err != nil {
			s.logger.Warn("Failed to record session", "error", err)
		} else {
			cl.session = sess.ID
		}
	}

	// hello is queued before registering so it is always the first frame
	hello, err := encode(TypeHello, gin.H{
		"name":      s.deps.Name,
		"version":   s.deps.Version,
		"session":   cl.session,
		"mutation":  s.deps.Catalog.MutationEnabled(),
		"intervalS": s.deps.Config.PushInterval.Seconds(),
	})
	if err == nil {
		cl.send <- hello
	}
	if !s.hub.add(cl) {
		conn.Close()
		s.endSession(ctx, cl)
		return
	}
	s.logger.Debug("Websocket client connected", "session", cl.session, "remote", c.Request.RemoteAddr)

	pumpDone := make(chan struct{})
	go func() {
		cl.writePump()
		close(pumpDone)
	}()

	s.hub.readPump(cl)
	s.hub.remove(cl)
	<-pumpDone

	s.endSession(ctx, cl)
	s.logger.Debug("Websocket client disconnected", "session", cl.session)
}

func (s *Server) endSession(ctx context.Context, cl *client) {
	if cl.session == "" {
		return
	}
	if err := s.deps.Sessions.Touch(ctx, cl.session, cl.sent.Load(), cl.received.Load()); err != nil {
		s.logger.Warn("Failed to update session", "session", cl.session, "error", err)
	}
	if err := s.deps.Sessions.End(ctx, cl.session); err != nil {
		s.logger.Warn("Failed to end session", "session", cl.session, "error", err)
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	snap, err := s.deps.Catalog.EnsureLoaded(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	c.JSON(http.StatusOK, gin.H{
		"name":       s.deps.Name,
		"version":    s.deps.Version,
		"uptimeSec":  time.Since(s.started).Seconds(),
		"mutation":   s.deps.Catalog.MutationEnabled(),
		"wsClients":  s.hub.count(),
		"heapAllocB": mem.HeapAlloc,
		"catalog": gin.H{
			"count":          snap.Count(),
			"hash":           snap.Hash,
			"governanceHash": snap.GovernanceHash,
			"loadErrors":     len(snap.Errors),
			"loadedAt":       snap.LoadedAt,
		},
	})
}

type toolView struct {
	tools.Info
	Stats *metrics.ToolStats `json:"stats,omitempty"`
}

func (s *Server) handleTools(c *gin.Context) {
	infos := s.deps.Tools()
	out := make([]toolView, 0, len(infos))
	for _, info := range infos {
		v := toolView{Info: info}
		if st, ok := s.deps.Metrics.Tool(info.Name); ok {
			v.Stats = &st
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"tools": out, "count": len(out)})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Metrics.Snapshot())
}

type instructionSummary struct {
	catalog.Summary
	Score int `json:"score,omitempty"`
}

func (s *Server) handleInstructions(c *gin.Context) {
	snap, err := s.deps.Catalog.EnsureLoaded(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	limit := catalog.DefaultSearchLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, catalog.MaxSearchLimit)
	}
	var filter catalog.Filter
	if cat := c.Query("category"); cat != "" {
		filter.Categories = []string{cat}
	}

	items := []instructionSummary{}
	total := 0
	if q := c.Query("q"); q != "" {
		res, err := catalog.Search(snap, catalog.Query{Text: q, Filter: filter, Limit: limit})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		for _, h := range res.Hits {
			sum := instructionSummary{Summary: h.Entry.Summarize()}
			sum.Score = h.Score
			items = append(items, sum)
		}
		total = res.Total
	} else {
		for _, in := range snap.Entries {
			if !filter.Match(in) {
				continue
			}
			total++
			if len(items) < limit {
				items = append(items, instructionSummary{Summary: in.Summarize()})
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"items":     items,
		"total":     total,
		"truncated": total > len(items),
		"hash":      snap.Hash,
	})
}

func (s *Server) handleInstruction(c *gin.Context) {
	in, err := s.deps.Catalog.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, catalog.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if s.deps.Usage != nil {
		s.deps.Usage.Annotate(in)
	}
	c.JSON(http.StatusOK, in)
}

func (s *Server) handleHotset(c *gin.Context) {
	if s.deps.Usage == nil {
		c.JSON(http.StatusOK, gin.H{"items": []catalog.HotEntry{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	c.JSON(http.StatusOK, gin.H{"items": s.deps.Usage.Hotset(limit)})
}

func (s *Server) handleSessions(c *gin.Context) {
	if s.deps.Sessions == nil {
		c.JSON(http.StatusOK, gin.H{"items": []session.Session{}})
		return
	}
	active := c.Query("active") == "true"
	c.JSON(http.StatusOK, gin.H{"items": s.deps.Sessions.List(active)})
}
