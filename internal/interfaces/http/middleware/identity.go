package middleware

import "github.com/gin-gonic/gin"

// identityHeader carries the opaque caller identity set by the outer
// authenticating proxy.  calcstore does not verify it; it is recorded as the
// creator tag on writes.
const identityHeader = "X-User-Id"

// Identity installs the caller identity into the request context.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := c.GetHeader(identityHeader); user != "" {
			c.Set("user_id", user)
		}
		c.Next()
	}
}
