package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const cdpTokenTTL = 2 * time.Minute

// CDPAuthHeaders returns an AuthHeadersFunc that mints a short-lived ES256
// bearer token scoped to the exact request URI. Tokens are single-use by
// convention and expensive to share across backends, so one is generated
// per attempt.
func CDPAuthHeaders(keyID, keySecret string) func(ctx context.Context, method, requestURL string) (map[string]string, error) {
	return func(ctx context.Context, method, requestURL string) (map[string]string, error) {
		key, err := jwt.ParseECPrivateKeyFromPEM([]byte(keySecret))
		if err != nil {
			return nil, fmt.Errorf("parse cdp key: %w", err)
		}

		parsed, err := url.Parse(requestURL)
		if err != nil {
			return nil, fmt.Errorf("parse request url: %w", err)
		}

		now := time.Now()
		claims := jwt.MapClaims{
			"sub": keyID,
			"iss": "cdp",
			"nbf": now.Unix(),
			"exp": now.Add(cdpTokenTTL).Unix(),
			"uris": []string{
				fmt.Sprintf("%s %s%s", method, parsed.Host, parsed.Path),
			},
		}

		token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
		token.Header["kid"] = keyID
		token.Header["nonce"] = uuid.NewString()

		signed, err := token.SignedString(key)
		if err != nil {
			return nil, fmt.Errorf("sign cdp token: %w", err)
		}
		return map[string]string{"Authorization": "Bearer " + signed}, nil
	}
}
