package httpserver

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"merchant-sync/internal/apperr"
	"merchant-sync/internal/log"
	"merchant-sync/internal/usecase"
)

// Importer runs one merchant import.
type Importer interface {
	Run(ctx context.Context, path string) (usecase.ImportResult, error)
	RunReader(ctx context.Context, name string, r io.Reader) (usecase.ImportResult, error)
}

// Store is what the health and outbox endpoints read.
type Store interface {
	Ping(ctx context.Context) error
	PendingCount(ctx context.Context) (int, error)
}

type importRequest struct {
	Path string `json:"path"`
}

var errOutsideImportDir = errors.New("path outside the import directory")

// NewRouter wires the importer's admin endpoints.
// Public: /health, /ready
// Imports: POST /imports, POST /imports/upload
// Outbox: GET /outbox
//
// POST /imports only reads files under importDir; an empty importDir
// disables it.
func NewRouter(importer Importer, st Store, importDir string, logger *log.Logger) *gin.Engine {
	logger = logger.Component("http")

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.POST("/imports", func(c *gin.Context) {
		var req importRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}
		if req.Path == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "path required"})
			return
		}

		if importDir == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "path imports are disabled"})
			return
		}
		path, err := resolveImportPath(importDir, req.Path)
		if err != nil {
			logger.Warn("Rejected import path", log.String("path", req.Path), log.Error(err))
			c.JSON(http.StatusForbidden, gin.H{"error": errOutsideImportDir.Error()})
			return
		}

		result, err := importer.Run(c.Request.Context(), path)
		respond(c, logger, result, err)
	})

	// The request body is the batch file itself.
	r.POST("/imports/upload", func(c *gin.Context) {
		result, err := importer.RunReader(c.Request.Context(), "upload", c.Request.Body)
		respond(c, logger, result, err)
	})

	r.GET("/outbox", func(c *gin.Context) {
		pending, err := st.PendingCount(c.Request.Context())
		if err != nil {
			logger.Error("Failed to count pending events", log.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pending": pending})
	})

	return r
}

func respond(c *gin.Context, logger *log.Logger, result usecase.ImportResult, err error) {
	if err == nil {
		c.JSON(http.StatusOK, result)
		return
	}

	logger.Error("Import failed", log.Error(err))
	switch {
	case apperr.IsValidation(err):
		// Field values come from the uploaded file and are not echoed back.
		var verr *apperr.ValidationError
		errors.As(err, &verr)
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "invalid batch file",
			"field": verr.Field,
			"line":  verr.Line,
		})
	case errors.Is(err, fs.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{"error": "batch file not found"})
	case apperr.IsPublish(err):
		// Merchants are stored; their events stay in the outbox for the relay.
		c.JSON(http.StatusBadGateway, gin.H{
			"error":     err.Error(),
			"imported":  result.Imported,
			"published": result.Published,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// resolveImportPath joins a relative path onto dir and makes sure the result,
// symlinks resolved, stays inside dir.
func resolveImportPath(dir, path string) (string, error) {
	base, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	}

	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(base, full)
	}
	full = filepath.Clean(full)
	if resolved, err := filepath.EvalSymlinks(full); err == nil {
		full = resolved
	} else if parent, err := filepath.EvalSymlinks(filepath.Dir(full)); err == nil {
		full = filepath.Join(parent, filepath.Base(full))
	}

	rel, err := filepath.Rel(base, full)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideImportDir
	}
	return full, nil
}
