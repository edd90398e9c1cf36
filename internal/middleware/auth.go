// Package middleware provides authentication, logging, tracing and rate
// limiting for the HTTP layer.
package middleware

import (
	"errors"
	"strings"
	"time"

	"penpoint/internal/config"
	"penpoint/internal/models"
	"penpoint/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Fiber locals written by the auth middleware.
const (
	LocalActor  = "actor"
	LocalUserID = "userID"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

var (
	errMissingHeader = errors.New("Authorization header required")
	errHeaderFormat  = errors.New("Invalid authorization header format")
	errInvalidToken  = errors.New("Invalid or expired token")
	errMissingSub    = errors.New("Invalid token structure - missing subject")
)

// AuthRequired rejects requests without a valid bearer token and stores
// the caller as a *models.Actor in c.Locals(LocalActor).
func AuthRequired(c *fiber.Ctx) error {
	actor, err := actorFromHeader(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
			Error: err.Error(),
			Code:  models.CodeUnauthorized,
		})
	}
	setActor(c, actor)
	return c.Next()
}

// OptionalAuth attaches the actor when a valid token is present and lets
// anonymous requests through. A malformed or expired token is still
// rejected so clients notice stale credentials.
func OptionalAuth(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return c.Next()
	}
	actor, err := actorFromHeader(header)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
			Error: err.Error(),
			Code:  models.CodeUnauthorized,
		})
	}
	setActor(c, actor)
	return c.Next()
}

// ActorFrom returns the authenticated caller, or nil for anonymous requests.
func ActorFrom(c *fiber.Ctx) *models.Actor {
	actor, _ := c.Locals(LocalActor).(*models.Actor)
	return actor
}

func setActor(c *fiber.Ctx, actor *models.Actor) {
	c.Locals(LocalActor, actor)
	c.Locals(LocalUserID, actor.ID)
	c.SetUserContext(observability.WithUserID(c.UserContext(), actor.ID))
}

func actorFromHeader(header string) (*models.Actor, error) {
	if header == "" {
		return nil, errMissingHeader
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, errHeaderFormat
	}
	return ParseToken(secret(), parts[1])
}

// ParseToken validates an HMAC signed token and returns the actor named by
// its "sub" and "role" claims. A missing role means a regular user.
func ParseToken(secret, tokenString string) (*models.Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return nil, errMissingSub
	}
	role, _ := claims["role"].(string)
	if role != models.RoleAdmin {
		role = models.RoleUser
	}
	return &models.Actor{ID: sub, Role: role}, nil
}

// SignToken issues a token for actor. Login lives outside this service;
// the seed tool uses this to hand out development credentials.
func SignToken(secret string, actor models.Actor, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  actor.ID,
		"role": actor.Role,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func secret() string {
	if cfg == nil {
		return ""
	}
	return cfg.JWTSecret
}
