package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
)

func (s *Server) ExportCSV(c *gin.Context) {
	id, ok := pathID(c, sessiondomain.ParseID)
	if !ok {
		return
	}

	// buffered so a failure mid-way still maps to an error response
	var buf bytes.Buffer
	if err := s.exporter.WriteCSV(c.Request.Context(), id, &buf); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="session-%s.csv"`, id.String()))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (s *Server) ExportReport(c *gin.Context) {
	id, ok := pathID(c, sessiondomain.ParseID)
	if !ok {
		return
	}

	report, err := s.exporter.Report(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	body, err := io.ReadAll(report)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="session-%s.pdf"`, id.String()))
	c.Data(http.StatusOK, "application/pdf", body)
}
