// Package server exposes survey sessions over an HTTP JSON API so that a web
// front end can act as the presentation collaborator.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/comic-survey/internal/logger"
	"github.com/rcliao/comic-survey/internal/model"
	"github.com/rcliao/comic-survey/internal/session"
	"github.com/rcliao/comic-survey/internal/survey"
)

type entry struct {
	mu      sync.Mutex // one request at a time per participant
	s       *session.Session
	touched time.Time
}

// Server keeps in-progress sessions in memory, keyed by participant id.
type Server struct {
	factory *session.Factory
	log     *logger.Logger
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// New returns a Server creating sessions from f. Idle sessions older than
// ttl are dropped unless a failed submission is waiting for a retry.
func New(f *session.Factory, log *logger.Logger, ttl time.Duration) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		factory:  f,
		log:      log.With("service", "SurveyServer"),
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Routes builds the gin engine.
func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	api := r.Group("/api/sessions")
	api.POST("", s.handleCreate)
	api.GET("/:id", s.withSession(func(c *gin.Context, ss *session.Session) error { return nil }))
	api.POST("/:id/start", s.withSession(func(c *gin.Context, ss *session.Session) error {
		return ss.Start()
	}))
	api.POST("/:id/level", s.withSession(s.handleLevel))
	api.POST("/:id/description", s.withSession(s.handleDescription))
	api.POST("/:id/ratings", s.withSession(s.handleRatings))
	api.POST("/:id/submit", s.withSession(func(c *gin.Context, ss *session.Session) error {
		return ss.Flush(c.Request.Context())
	}))
	return r
}

// Run serves on addr until ctx is cancelled, sweeping idle sessions.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Routes(), ReadHeaderTimeout: 10 * time.Second}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s.log.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if s.ttl > 0 {
		eg.Go(func() error {
			t := time.NewTicker(s.ttl / 4)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					if n := s.Sweep(); n > 0 {
						s.log.Info("swept idle sessions", "count", n)
					}
				}
			}
		})
	}
	return eg.Wait()
}

// Sweep drops idle sessions and returns how many were removed. A submitted
// session whose flush failed is kept so the participant can retry. Sessions
// busy with a request are skipped.
func (s *Server) Sweep() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	entries := make(map[string]*entry, len(s.sessions))
	for id, e := range s.sessions {
		entries[id] = e
	}
	s.mu.Unlock()

	n := 0
	for id, e := range entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.touched.Before(cutoff) && !awaitingRetry(e.s) {
			s.mu.Lock()
			if s.sessions[id] == e {
				delete(s.sessions, id)
				n++
			}
			s.mu.Unlock()
		}
		e.mu.Unlock()
	}
	return n
}

func awaitingRetry(ss *session.Session) bool {
	return ss.State().Kind == session.Submitted && len(ss.Pending()) > 0
}

func (s *Server) handleCreate(c *gin.Context) {
	ss, err := s.factory.NewSession(c.Request.Context())
	if err != nil {
		s.log.Error("session setup failed", "error", err)
		writeError(c, err)
		return
	}
	id := ss.Participant().ID

	s.mu.Lock()
	s.sessions[id] = &entry{s: ss, touched: s.now()}
	s.mu.Unlock()

	s.log.Info("session created", "participant_id", id, "group", ss.Participant().Group)
	c.JSON(http.StatusCreated, ss.View())
}

type levelRequest struct {
	Level model.Level `json:"level" binding:"required"`
}

func (s *Server) handleLevel(c *gin.Context, ss *session.Session) error {
	var req levelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return &survey.ValidationError{Field: "english_level", Reason: err.Error()}
	}
	return ss.ChooseLevel(req.Level)
}

type descriptionRequest struct {
	Description string `json:"description"`
	KnownBefore *bool  `json:"known_before"`
}

func (s *Server) handleDescription(c *gin.Context, ss *session.Session) error {
	var req descriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return &survey.ValidationError{Field: "description", Reason: err.Error()}
	}
	return ss.SubmitDescription(req.Description, req.KnownBefore)
}

type ratingsRequest struct {
	Ratings map[model.Dimension]int `json:"ratings"`
}

func (s *Server) handleRatings(c *gin.Context, ss *session.Session) error {
	var req ratingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return &survey.ValidationError{Field: "ratings", Reason: err.Error()}
	}
	return ss.SubmitRatings(req.Ratings)
}

// withSession looks up the session, runs fn under its lock and answers with
// the resulting view or the mapped error.
func (s *Server) withSession(fn func(*gin.Context, *session.Session) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		e, ok := s.sessions[c.Param("id")]
		s.mu.Unlock()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		e.touched = s.now()

		if err := fn(c, e.s); err != nil {
			if !errors.Is(err, survey.ErrValidation) {
				s.log.Warn("session step failed", "participant_id", e.s.Participant().ID, "state", e.s.State().String(), "error", err)
			}
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, e.s.View())
	}
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"error": survey.UserMessage(err)}

	var ve *survey.ValidationError
	switch {
	case errors.As(err, &ve):
		status = http.StatusUnprocessableEntity
		body["field"] = ve.Field
	case errors.Is(err, survey.ErrState):
		status = http.StatusConflict
	case errors.Is(err, survey.ErrSinkConflict), errors.Is(err, survey.ErrSinkUnavailable):
		status = http.StatusServiceUnavailable
		body["retry"] = true
	case errors.Is(err, survey.ErrCatalog), errors.Is(err, survey.ErrStore):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request", "method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status(), "duration", time.Since(start))
	}
}
