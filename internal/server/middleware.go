package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderActor identifies the counter or reviewer behind a request. Authentication happens upstream.
const HeaderActor = "X-Actor-Id"

// actorID prefers an explicit value from the request body and falls back to the actor header.
func actorID(c *gin.Context, explicit string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	return strings.TrimSpace(c.GetHeader(HeaderActor))
}
