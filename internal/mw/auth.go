package mw

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"copier-fleet-backend/internal/model"
)

const actorKey = "actor"

// Claims is the token payload issued by the session service.
type Claims struct {
	Role   model.Role `json:"role"`
	Branch string     `json:"branch,omitempty"`
	jwt.RegisteredClaims
}

// Auth verifies HS256 bearer tokens and stores the caller's model.Actor in the context.
func Auth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		actor, err := ParseActor(secret, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// ParseActor validates a token and returns the actor it describes.
func ParseActor(secret []byte, raw string) (model.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return model.Actor{}, err
	}
	if claims.Subject == "" {
		return model.Actor{}, errors.New("token has no subject")
	}
	switch claims.Role {
	case model.RoleAdmin, model.RoleUser:
	default:
		return model.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return model.Actor{ID: claims.Subject, Role: claims.Role, Branch: claims.Branch}, nil
}

// IssueToken signs a token for actor. The session service owns issuing in production; this
// is used by tooling and tests.
func IssueToken(secret []byte, actor model.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:   actor.Role,
		Branch: actor.Branch,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ActorFrom returns the authenticated actor of the request.
func ActorFrom(c *gin.Context) (model.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return model.Actor{}, false
	}
	actor, ok := v.(model.Actor)
	return actor, ok
}
