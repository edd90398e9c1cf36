package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"penpoint/internal/config"
	"penpoint/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func signed(t *testing.T, claims jwt.MapClaims, method jwt.SigningMethod, key interface{}) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func actorApp(handler fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Get("/test", handler, func(c *fiber.Ctx) error {
		actor := ActorFrom(c)
		if actor == nil {
			return c.JSON(fiber.Map{"anonymous": true})
		}
		return c.JSON(actor)
	})
	return app
}

func TestAuthRequired(t *testing.T) {
	InitMiddleware(&config.Config{JWTSecret: testSecret})
	app := actorApp(AuthRequired)

	userToken, err := SignToken(testSecret, models.Actor{ID: "u-123", Role: models.RoleUser}, time.Hour)
	require.NoError(t, err)
	adminToken, err := SignToken(testSecret, models.Actor{ID: "a-1", Role: models.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	expired, err := SignToken(testSecret, models.Actor{ID: "u-123"}, -time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectedActor  models.Actor
	}{
		{
			name:           "Happy Path",
			authHeader:     "Bearer " + userToken,
			expectedStatus: http.StatusOK,
			expectedActor:  models.Actor{ID: "u-123", Role: models.RoleUser},
		},
		{
			name:           "Admin Role",
			authHeader:     "Bearer " + adminToken,
			expectedStatus: http.StatusOK,
			expectedActor:  models.Actor{ID: "a-1", Role: models.RoleAdmin},
		},
		{
			name:           "Unknown Role Is A User",
			authHeader:     "Bearer " + signed(t, jwt.MapClaims{"sub": "u-9", "role": "root", "exp": time.Now().Add(time.Hour).Unix()}, jwt.SigningMethodHS256, []byte(testSecret)),
			expectedStatus: http.StatusOK,
			expectedActor:  models.Actor{ID: "u-9", Role: models.RoleUser},
		},
		{name: "Missing Header", expectedStatus: http.StatusUnauthorized},
		{name: "Invalid Format", authHeader: "Basic dXNlcjpwYXNz", expectedStatus: http.StatusUnauthorized},
		{name: "Malformed Token", authHeader: "Bearer malformed.token.here", expectedStatus: http.StatusUnauthorized},
		{name: "Expired Token", authHeader: "Bearer " + expired, expectedStatus: http.StatusUnauthorized},
		{
			name:           "Wrong Secret",
			authHeader:     "Bearer " + signed(t, jwt.MapClaims{"sub": "u-1"}, jwt.SigningMethodHS256, []byte("another-secret")),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Missing Subject",
			authHeader:     "Bearer " + signed(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}, jwt.SigningMethodHS256, []byte(testSecret)),
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusOK {
				var got models.Actor
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
				assert.Equal(t, tt.expectedActor, got)
				return
			}
			var body models.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, models.CodeUnauthorized, body.Code)
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	InitMiddleware(&config.Config{JWTSecret: testSecret})
	app := actorApp(OptionalAuth)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	var anon map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&anon))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, anon["anonymous"])

	token, err := SignToken(testSecret, models.Actor{ID: "u-5", Role: models.RoleUser}, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	var got models.Actor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	_ = resp.Body.Close()
	assert.Equal(t, "u-5", got.ID)

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer stale")
	resp, err = app.Test(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestParseToken_RejectsNonHMAC(t *testing.T) {
	token := signed(t, jwt.MapClaims{"sub": "u-1"}, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType)
	_, err := ParseToken(testSecret, token)
	assert.Error(t, err)
}
