package api

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/stageflow/internal/models"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode      string // "jwt", "api-key", "none"
	APIKey    string
	JWTSecret string
	// Roles maps an API key to a role. Keys absent from the map get operator.
	Roles map[string]models.Role
}

const actorKey = "actor"

// NewAuthMiddleware returns a Fiber middleware that resolves the caller into
// an Actor. Probe endpoints bypass auth entirely.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	cache := newCredentialCache()
	return func(c *fiber.Ctx) error {
		if cfg.Mode == "none" {
			c.Locals(actorKey, models.Actor{ID: "anonymous", Role: models.RoleAdmin})
			return c.Next()
		}

		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		if actor, ok := cache.get(token); ok {
			c.Locals(actorKey, actor)
			return c.Next()
		}

		var (
			actor models.Actor
			err   error
		)
		switch cfg.Mode {
		case "jwt":
			actor, err = actorFromJWT(token, cfg.JWTSecret)
		case "api-key":
			actor, err = actorFromAPIKey(token, cfg)
		default:
			err = fmt.Errorf("unknown auth mode %q", cfg.Mode)
		}
		if err != nil {
			logger.Warn().
				Str("path", path).
				Str("method", c.Method()).
				Err(err).
				Msg("unauthorized request")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_credentials", "Unauthorized",
				"Invalid credentials")
		}

		cache.put(token, actor)
		c.Locals(actorKey, actor)
		return c.Next()
	}
}

// actorFromJWT validates an HS256 token and reads the sub and role claims.
func actorFromJWT(tokenStr, secret string) (models.Actor, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return models.Actor{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Actor{}, fmt.Errorf("unexpected claims type")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return models.Actor{}, fmt.Errorf("missing sub claim")
	}
	role := models.RoleReadOnly
	if r, ok := claims["role"].(string); ok && r != "" {
		role = models.Role(r)
	}
	return models.Actor{ID: sub, Role: role}, nil
}

func actorFromAPIKey(key string, cfg AuthConfig) (models.Actor, error) {
	if role, ok := cfg.Roles[key]; ok {
		return models.Actor{ID: "api-key", Role: role}, nil
	}
	if cfg.APIKey != "" && key == cfg.APIKey {
		return models.Actor{ID: "api-key", Role: models.RoleOperator}, nil
	}
	return models.Actor{}, fmt.Errorf("invalid API key")
}

// actorFromCtx returns the Actor set by the auth middleware.
func actorFromCtx(c *fiber.Ctx) models.Actor {
	if a, ok := c.Locals(actorKey).(models.Actor); ok {
		return a
	}
	return models.Actor{ID: "anonymous", Role: models.RoleReadOnly}
}

// requireRole returns a middleware that enforces a minimum role level.
func requireRole(min models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !actorFromCtx(c).Role.AtLeast(min) {
			return problemResponse(c, fiber.StatusForbidden,
				"insufficient_role", "Forbidden",
				"Insufficient permissions for this operation")
		}
		return c.Next()
	}
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
