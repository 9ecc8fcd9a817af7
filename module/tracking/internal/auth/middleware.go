package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
)

const ContextCallerKey = "caller"

// Middleware resolves the Authorization header. Requests without a token
// continue as anonymous; handlers decide what anonymous callers may see.
func Middleware(a *Authenticator, onError func(c *gin.Context, err error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := a.Resolve(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			onError(c, err)
			c.Abort()
			return
		}
		c.Set(ContextCallerKey, caller)
		c.Next()
	}
}

func CallerFrom(c *gin.Context) domain.CallerIdentity {
	v, ok := c.Get(ContextCallerKey)
	if !ok {
		return domain.CallerIdentity{}
	}
	caller, _ := v.(domain.CallerIdentity)
	return caller
}
