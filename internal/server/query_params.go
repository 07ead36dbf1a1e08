package server

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func parseOptionalBool(value string) (*bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalFloat(value string) (*float64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// pathID parses the :id path parameter with the owning package's parser so the error names the entity.
func pathID(c *gin.Context, parse func(string) (snowflake.ID, error)) (snowflake.ID, bool) {
	id, err := parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return 0, false
	}
	return id, true
}

func parseIDList(values []string, parse func(string) (snowflake.ID, error)) ([]snowflake.ID, error) {
	out := make([]snowflake.ID, 0, len(values))
	for _, v := range values {
		id, err := parse(strings.TrimSpace(v))
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// bindOptionalJSON accepts an empty body so actor-only endpoints can rely on the actor header.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
