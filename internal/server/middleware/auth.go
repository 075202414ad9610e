package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/pkg/api"
)

const (
	ScopeAdmin = "admin"

	identityKey = "identity"
)

// Identity is the authenticated caller.
type Identity struct {
	CallerID string
	Scopes   []string
}

func (i Identity) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

func hashKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Auth resolves the Bearer token to a caller. Keys are indexed by their
// SHA-256 digest so raw secrets are not kept past startup.
func Auth(keys []config.APIKeyConfig) gin.HandlerFunc {
	byHash := make(map[string]Identity, len(keys))
	for _, k := range keys {
		byHash[hashKey(k.Key)] = Identity{CallerID: k.Caller, Scopes: k.Scopes}
	}

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			_ = c.Error(api.UnauthorizedError("Missing Authorization header"))
			c.Abort()
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			_ = c.Error(api.UnauthorizedError("Invalid Authorization header format"))
			c.Abort()
			return
		}

		id, found := byHash[hashKey(token)]
		if !found {
			_ = c.Error(api.UnauthorizedError("Invalid API key"))
			c.Abort()
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireScope rejects authenticated callers lacking scope.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetIdentity(c).HasScope(scope) {
			_ = c.Error(api.ForbiddenError("This operation requires the '" + scope + "' scope"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func GetIdentity(c *gin.Context) Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{}
}

// CallerID is the identity used for accounting, caching and quotas.
func CallerID(c *gin.Context) string {
	return GetIdentity(c).CallerID
}
