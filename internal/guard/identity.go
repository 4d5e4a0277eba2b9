package guard

import "github.com/gin-gonic/gin"

const identityKey = "guard_identity"

// Identity is what upstream authentication established for a request.
// SessionError carries a session validation reason; Err an infrastructure
// failure while validating.
type Identity struct {
	Email        string
	UserID       string
	SessionID    string
	SessionError string
	Err          error
}

// SetIdentity stores the request identity for the guard.
func SetIdentity(c *gin.Context, id Identity) {
	c.Set(identityKey, id)
}

// IdentityFrom returns the identity stored by SetIdentity.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
