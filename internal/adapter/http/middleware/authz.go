package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	PermOrdersWrite = "orders.write"
	PermOrdersRead  = "orders.read"
	PermOrdersAdmin = "orders.admin"

	ctxCustomerID = "customer_id"
	ctxPerms      = "perms"
)

// AuthConfig is the verification side of the storefront's token issuer.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

type Authz struct {
	cfg AuthConfig
}

func NewAuthz(cfg AuthConfig) *Authz {
	return &Authz{cfg: cfg}
}

// Require checks JWT and ensures all required permissions are present.
// The token subject is the customer ID.
func (a *Authz) Require(requiredPerms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			unauth(c, "invalid_request", "missing bearer token")
			return
		}

		raw := strings.TrimPrefix(auth, "Bearer ")
		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			return []byte(a.cfg.JWTSecret), nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(a.cfg.Issuer),
			jwt.WithAudience(a.cfg.Audience),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second), // small clock skew
		)
		if err != nil || !token.Valid {
			unauth(c, "invalid_token", "invalid jwt")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			unauth(c, "invalid_token", "claims parsing error")
			return
		}
		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			unauth(c, "invalid_token", "missing subject")
			return
		}

		perms := extractPerms(claims)
		if !hasAll(perms, requiredPerms) {
			forbidden(c, "insufficient_scope", "missing required permissions")
			return
		}

		c.Set(ctxCustomerID, sub)
		c.Set(ctxPerms, perms)
		c.Next()
	}
}

// CustomerID returns the authenticated subject set by Require.
func CustomerID(c *gin.Context) string {
	return c.GetString(ctxCustomerID)
}

func HasPerm(c *gin.Context, perm string) bool {
	v, ok := c.Get(ctxPerms)
	if !ok {
		return false
	}
	perms, _ := v.(map[string]struct{})
	_, ok = perms[perm]
	return ok
}

func extractPerms(claims jwt.MapClaims) map[string]struct{} {
	out := map[string]struct{}{}
	if arr, ok := claims["perms"].([]any); ok {
		for _, v := range arr {
			if s, ok := v.(string); ok && s != "" {
				out[s] = struct{}{}
			}
		}
	}
	return out
}

func hasAll(have map[string]struct{}, req []string) bool {
	for _, r := range req {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

func unauth(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": code, "error_description": desc})
}

func forbidden(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": code, "error_description": desc})
}
