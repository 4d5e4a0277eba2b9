package guard

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
)

const (
	HeaderRequestID    = "X-Request-Id"
	HeaderCacheControl = "Cache-Control"
	// ContextRequestID is the gin context key shared with the request logger.
	ContextRequestID = "request_id"

	cacheNoStore = "no-store, max-age=0"

	maxRequestIDLen = 128
)

// NewRequestID returns a time-sortable request id.
func NewRequestID() string {
	return "req_" + ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// RequestID returns the id assigned to the request, assigning one if needed.
func RequestID(c *gin.Context) string {
	if id := c.GetString(ContextRequestID); id != "" {
		return id
	}
	id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
	if !wellFormedRequestID(id) {
		id = NewRequestID()
	}
	c.Set(ContextRequestID, id)
	return id
}

// wellFormedRequestID accepts short printable tokens only.
func wellFormedRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return false
		}
	}
	return true
}
