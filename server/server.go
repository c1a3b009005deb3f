package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/krau/signtagger/config"
)

type Server struct {
	engine *gin.Engine
	inner  *http.Server
}

func New(cfg config.Config, classifier Classifier) *Server {
	r := gin.New()
	r.Use(requestLogger(), gin.Recovery())
	r.Use(cors.New(corsConfig(cfg.AllowOrigins)))

	h := NewHandler(classifier, cfg.Token, cfg.MaxUploadMB<<20, cfg.MaxPixels)
	r.GET("/", h.RootHandler)
	r.GET("/health", h.HealthHandler)

	api := r.Group("/api", h.AuthMiddleware)
	api.GET("/words", h.WordsHandler)
	api.GET("/model-info", h.ModelInfoHandler)
	api.POST("/predict", h.PredictHandler)
	api.POST("/predict-base64", h.PredictBase64Handler)

	return &Server{
		engine: r,
		inner: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
		},
	}
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Start() error {
	slog.Info("Listening on", slog.String("address", s.inner.Addr))
	if err := s.inner.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.inner.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("Request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("client", c.ClientIP()))
	}
}
