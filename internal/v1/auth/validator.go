package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"

	"github.com/playroom-live/playroom/backend/go/internal/v1/logging"
)

// CustomClaims represents the JWT claims this service cares about. Role is the
// connection role requested by the client ("player", "host-control",
// "host-display") and is cross-checked against the handshake.
type CustomClaims struct {
	Scope string `json:"scope"`
	Role  string `json:"role,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Validator provides JWT validation using JWKS published by the identity
// provider, with issuer and audience checks.
type Validator struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience []string
}

// NewValidator creates a Validator backed by the JWKS endpoint of the given
// domain. The JWKS is cached and refreshed hourly; the initial fetch is done
// eagerly so misconfiguration fails at startup, not at the first handshake.
func NewValidator(ctx context.Context, domain, audience string, regOpts ...jwk.RegisterOption) (*Validator, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer URL: %w", err)
	}

	jwksURL := issuerURL.JoinPath(".well-known/jwks.json").String()

	cache := jwk.NewCache(ctx)

	// Combine default options with any provided options for testability.
	opts := []jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}
	opts = append(opts, regOpts...)

	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL in cache: %w", err)
	}

	// Fetch the keys for the first time to ensure connectivity.
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}

		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get keys from cache: %w", err)
		}

		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key with kid %s not found", kid)
		}

		var pubKey interface{}
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("failed to get raw public key: %w", err)
		}

		return pubKey, nil
	}

	return &Validator{
		keyFunc:  keyFunc,
		issuer:   issuerURL.String(),
		audience: []string{audience},
	}, nil
}

// ValidateToken parses and validates a JWT token string using the configured
// key function, issuer, and audience, returning the custom claims if valid.
func (v *Validator) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, v.keyFunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience[0]),
	)

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, errors.New("token is invalid")
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok {
		return nil, errors.New("failed to cast claims to CustomClaims")
	}

	return claims, nil
}

// GetAllowedOriginsFromEnv returns allowed origins from the given env var, or
// the defaults when unset.
func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	// Example: ALLOWED_ORIGINS="http://localhost:3000,https://your-app.com"
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		// Provide sensible defaults for local development if the env var isn't set.
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set. Using default development origins:\n%s", envVarName, defaultEnvs))
		return defaultEnvs
	}
	return strings.Split(originsStr, ",")
}

// MockValidator is a development-only token validator that accepts any token.
// It decodes the payload without verifying the signature so the player id
// stays consistent between client and server in dev mode.
type MockValidator struct{}

func (m *MockValidator) ValidateToken(tokenString string) (*CustomClaims, error) {
	var subject, name, role string

	// Parse JWT token (format: header.payload.signature)
	parts := strings.Split(tokenString, ".")
	if len(parts) == 3 {
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err == nil {
			var claims map[string]interface{}
			if json.Unmarshal(payload, &claims) == nil {
				if sub, ok := claims["sub"].(string); ok {
					subject = sub
				}
				if n, ok := claims["name"].(string); ok {
					name = n
				}
				if r, ok := claims["role"].(string); ok {
					role = r
				}
				logging.Info(context.Background(), "MockValidator parsed JWT",
					zap.String("subject", subject), zap.String("name", name), zap.String("role", role))
			}
		}
	}

	// Fallback to defaults if parsing failed
	if subject == "" {
		subject = "dev-player-123"
	}
	if name == "" {
		name = "Dev Player"
	}
	if role == "" {
		role = "player"
	}

	claims := &CustomClaims{
		Name: name,
		Role: role,
	}
	claims.Subject = subject
	return claims, nil
}
