package server

import (
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

// ServePhoto streams a stored photo behind a signed, expiring link.
func (s *Server) ServePhoto(c *gin.Context) {
	if s.photos == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	stored := strings.TrimPrefix(c.Param("path"), "/")
	clean, err := s.photos.Verify(stored, c.Query("expires"), c.Query("sig"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	body, err := s.photos.Get(c.Request.Context(), clean)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	contentType := mime.TypeByExtension(path.Ext(clean))
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, contentType, body)
}
