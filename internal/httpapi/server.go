// Package httpapi exposes homes, tasks, habits, profiles and the sweep over
// HTTP.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"homekeep/internal/habit"
	"homekeep/internal/home"
	"homekeep/internal/profile"
	"homekeep/internal/task"
	logx "homekeep/pkg/logx"
)

// HealthFunc adds component status to GET /healthz.
type HealthFunc func() map[string]any

type Deps struct {
	Tasks  *task.Service
	Habits *habit.Service
	Homes  *home.Service
	Users  *profile.Cache
	Health HealthFunc
	Log    logx.Logger
	// Pprof mounts net/http/pprof under /debug/pprof.
	Pprof bool
}

// Server is the API router plus its listener lifecycle.
type Server struct {
	tasks  *task.Service
	habits *habit.Service
	homes  *home.Service
	users  *profile.Cache
	health HealthFunc
	log    logx.Logger
	router *gin.Engine

	mu   sync.Mutex
	srv  *http.Server
	addr string
}

func New(d Deps) *Server {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(d.Log))

	s := &Server{
		tasks:  d.Tasks,
		habits: d.Habits,
		homes:  d.Homes,
		users:  d.Users,
		health: d.Health,
		log:    d.Log,
		router: router,
	}

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")
	{
		api.POST("/homes", s.handleCreateHome)
		api.GET("/homes/:id", s.handleGetHome)
		api.POST("/homes/:id/members", s.handleAddMember)
		api.GET("/homes/:id/tasks", s.handleListTasks)
		api.POST("/homes/:id/tasks", s.handleCreateTask)

		api.GET("/tasks/:id", s.handleGetTask)
		api.PATCH("/tasks/:id", s.handleUpdateTask)
		api.DELETE("/tasks/:id", s.handleDeleteTask)
		api.PUT("/tasks/:id/status", s.handleSetStatus)

		if s.habits != nil {
			api.GET("/homes/:id/habits", s.handleListHabits)
			api.POST("/homes/:id/habits", s.handleCreateHabit)
			api.GET("/users/:id/habits", s.handleUserHabits)
			api.GET("/habits/:id", s.handleGetHabit)
			api.PATCH("/habits/:id", s.handleUpdateHabit)
			api.DELETE("/habits/:id", s.handleDeleteHabit)
			api.POST("/habits/:id/completions", s.handleCompleteHabit)
			api.GET("/habits/:id/completions", s.handleHabitCompletions)
			api.GET("/habits/:id/completions/last", s.handleLastHabitCompletion)
		}

		api.PUT("/users/:id", s.handleUpsertUser)
		api.GET("/users/:id", s.handleGetUser)
		api.POST("/users/:id/sweep", s.handleUserSweep)

		api.POST("/sweep", s.handleSweep)
	}

	if d.Pprof {
		dbg := router.Group("/debug/pprof")
		dbg.GET("/", gin.WrapF(pprof.Index))
		dbg.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		dbg.GET("/profile", gin.WrapF(pprof.Profile))
		dbg.GET("/symbol", gin.WrapF(pprof.Symbol))
		dbg.POST("/symbol", gin.WrapF(pprof.Symbol))
		dbg.GET("/trace", gin.WrapF(pprof.Trace))
		dbg.GET("/:profile", func(c *gin.Context) {
			pprof.Handler(c.Param("profile")).ServeHTTP(c.Writer, c.Request)
		})
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	s.srv = srv
	s.addr = ln.Addr().String()

	go func(addr string) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", logx.String("addr", addr), logx.Err(err))
		}
	}(s.addr)
	s.log.Info("http listening", logx.String("addr", s.addr))
	return nil
}

// Stop shuts the listener down gracefully until ctx expires.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	addr := s.addr
	s.srv = nil
	s.addr = ""
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("http shutdown error", logx.String("addr", addr), logx.Err(err))
		_ = srv.Close()
	}
	s.log.Info("http stopped", logx.String("addr", addr))
}

// Addr reports the bound address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func requestLogger(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", status),
			logx.Duration("took", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logx.String("err", c.Errors.String()))
		}
		switch {
		case status >= 500:
			log.Warn("http request", fields...)
		default:
			log.Debug("http request", fields...)
		}
	}
}
