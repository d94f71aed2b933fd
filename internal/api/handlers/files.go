package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hmsportal/hms/internal/storage"
)

// SignedStore is a store that serves its own signed links, such as
// storage.Disk.
type SignedStore interface {
	storage.Store
	Verify(key, expires, sig string) error
}

type FileHandler struct {
	store  SignedStore
	logger *zap.Logger
}

func NewFileHandler(store SignedStore, logger *zap.Logger) *FileHandler {
	return &FileHandler{
		store:  store,
		logger: logger.With(zap.String("handler", "file")),
	}
}

func (fh *FileHandler) Download(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if err := fh.store.Verify(key, c.Query("expires"), c.Query("sig")); err != nil {
		fh.logger.Warn("Rejected file link",
			zap.String("request_id", requestID(c)),
			zap.String("client_ip", c.ClientIP()))
		Fail(c, http.StatusForbidden, "link is invalid or has expired", nil)
		return
	}

	body, err := fh.store.Get(c.Request.Context(), key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		Fail(c, http.StatusNotFound, "not found", nil)
		return
	}
	if err != nil {
		fh.logger.Error("File read failed", zap.String("key", key), zap.Error(err))
		Fail(c, http.StatusBadGateway, "file storage is unavailable, try again later", nil)
		return
	}
	defer body.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": displayName(key)}))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		fh.logger.Warn("File stream interrupted", zap.String("key", key), zap.Error(err))
	}
}

// displayName strips the uuid prefix storage.DocumentKey adds.
func displayName(key string) string {
	name := path.Base(key)
	if len(name) > 37 && name[36] == '-' {
		return name[37:]
	}
	return name
}
