// Package server is the HTTP transport: photo upload, submission reports,
// metrics and health.
package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
	"github.com/joseph-ayodele/receipts-ingest/internal/metrics"
	"github.com/joseph-ayodele/receipts-ingest/internal/photo"
)

const requestIDHeader = "X-Request-ID"

// Acceptor is the album buffer as seen by the upload handler.
type Acceptor interface {
	Accept(asset entity.PhotoAsset) (uuid.UUID, error)
}

type Server struct {
	album    Acceptor
	reports  *ReportStore
	maxBytes int64
	logger   *slog.Logger
	ready    atomic.Bool
}

func New(album Acceptor, reports *ReportStore, maxBytes int64, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if reports == nil {
		reports = NewReportStore(0)
	}
	s := &Server{album: album, reports: reports, maxBytes: maxBytes, logger: logger}
	s.ready.Store(true)
	return s
}

// SetReady flips /healthz between 200 and 503.
func (s *Server) SetReady(ok bool) { s.ready.Store(ok) }

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/photos", s.uploadPhoto)
		v1.GET("/submissions/:id", s.getSubmission)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(requestIDHeader, rid)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), rid))

		start := time.Now()
		c.Next()
		s.logger.Debug("http.request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"req_id", rid,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "receipts-ingest",
		"reports": s.reports.Len(),
	})
}

// uploadPhoto accepts one multipart photo. Only this asset is rejected when
// it is bad; the submission it would have joined is unaffected.
func (s *Server) uploadPhoto(c *gin.Context) {
	log := common.LoggerFrom(c.Request.Context(), s.logger)

	user := strings.TrimSpace(c.PostForm("user_id"))
	if user == "" {
		s.reject(c, http.StatusBadRequest, "user_id is required")
		return
	}
	fh, err := c.FormFile("photo")
	if err != nil {
		s.reject(c, http.StatusBadRequest, "photo file is required")
		return
	}
	if s.maxBytes > 0 && fh.Size > s.maxBytes {
		s.reject(c, http.StatusBadRequest, photo.ErrTooLarge.Error())
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.reject(c, http.StatusBadRequest, "cannot read photo")
		return
	}
	defer f.Close()

	limit := s.maxBytes
	if limit <= 0 {
		limit = 64 << 20
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		s.reject(c, http.StatusBadRequest, "cannot read photo")
		return
	}
	info, err := photo.Inspect(data, s.maxBytes)
	if err != nil {
		log.Warn("http.photo_rejected", "user", user, "filename", fh.Filename, "error", err)
		s.reject(c, http.StatusBadRequest, err.Error())
		return
	}

	asset := entity.PhotoAsset{
		ID:         uuid.New(),
		Submitter:  user,
		GroupKey:   strings.TrimSpace(c.PostForm("group_key")),
		Data:       data,
		MimeType:   info.MimeType,
		Filename:   fh.Filename,
		ReceivedAt: time.Now(),
	}
	id, err := s.album.Accept(asset)
	switch {
	case errors.Is(err, common.ErrBufferClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not accepting photos"})
		return
	case err != nil:
		s.reject(c, http.StatusBadRequest, err.Error())
		return
	}
	s.reports.Pending(id, user)

	log.Info("http.photo_accepted",
		"user", user,
		"group_key", asset.GroupKey,
		"submission_id", id,
		"bytes", len(data),
		"format", info.Format,
	)
	c.JSON(http.StatusAccepted, gin.H{
		"submission_id": id,
		"photo_id":      asset.ID,
	})
}

func (s *Server) reject(c *gin.Context, code int, msg string) {
	metrics.PhotosAccepted.WithLabelValues("rejected").Inc()
	c.JSON(code, gin.H{"error": msg})
}

func (s *Server) getSubmission(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return
	}
	report, ok := s.reports.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "submission not found"})
		return
	}
	c.JSON(http.StatusOK, report)
}
