package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stwalsh4118/verrify/internal/authz"
	"github.com/stwalsh4118/verrify/internal/logger"
)

const (
	// ActorKey is the gin context key holding the authenticated authz.Actor.
	ActorKey = "actor"
	// ClaimsKey is the gin context key holding the verified *Claims.
	ClaimsKey = "claims"
)

// Claims are the access token claims issued by the identity service. The
// subject is the user id.
type Claims struct {
	Role       string `json:"role"`
	Email      string `json:"email,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 access tokens.
type TokenVerifier struct {
	key    []byte
	issuer string
}

// NewTokenVerifier creates a verifier for tokens signed with secret. A
// non-empty issuer must match the iss claim.
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{key: []byte(secret), issuer: issuer}
}

// Verify parses and validates a token.
func (v *TokenVerifier) Verify(token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" {
		return nil, jwt.ErrTokenRequiredClaimMissing
	}
	return claims, nil
}

// Issue signs a token for userID. Used by tests and local tooling; production
// tokens come from the identity service.
func (v *TokenVerifier) Issue(userID string, role authz.Role, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:  string(role),
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(v.key)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller's actor and claims in the context.
func RequireAuth(verifier *TokenVerifier, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" {
			abortUnauthorized(c, log, "Missing or invalid Authorization header", nil)
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			msg := "Invalid or expired token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Token has expired"
			}
			abortUnauthorized(c, log, msg, err)
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(ActorKey, authz.Actor{UserID: claims.Subject, Role: authz.ParseRole(claims.Role)})
		c.Next()
	}
}

// RequireRole admits callers whose role satisfies required under policy.
// It must run after RequireAuth.
func RequireRole(policy *authz.Policy, required authz.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := GetActor(c)
		if !policy.Allows(actor.Role, required) {
			if reqLog := GetLogger(c); reqLog != nil {
				reqLog.Warn("Forbidden role", map[string]interface{}{
					"user_id":  actor.UserID,
					"role":     actor.Role,
					"required": required,
				})
			}
			abortJSON(c, http.StatusForbidden, "ADMIN_REQUIRED", "this action requires the "+string(required)+" role")
			return
		}
		c.Next()
	}
}

// GetActor returns the authenticated caller, or the zero Actor.
func GetActor(c *gin.Context) authz.Actor {
	if v, exists := c.Get(ActorKey); exists {
		if actor, ok := v.(authz.Actor); ok {
			return actor
		}
	}
	return authz.Actor{}
}

// GetClaims returns the verified token claims, or nil.
func GetClaims(c *gin.Context) *Claims {
	if v, exists := c.Get(ClaimsKey); exists {
		if claims, ok := v.(*Claims); ok {
			return claims
		}
	}
	return nil
}

func abortUnauthorized(c *gin.Context, log *logger.Logger, message string, err error) {
	fields := map[string]interface{}{"path": c.Request.URL.Path}
	if err != nil {
		fields["error"] = err.Error()
	}
	requestLogger(c, log).Warn("Unauthorized access", fields)
	abortJSON(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
}
