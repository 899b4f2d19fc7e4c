package server

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tollgate-ai/tollgate/internal/callerctx"
	"github.com/tollgate-ai/tollgate/internal/escrow"
	facilitatordomain "github.com/tollgate-ai/tollgate/internal/facilitator/domain"
	"go.uber.org/zap"
)

const contextPaymentPayloadKey = "payment_payload"

// UserTokenRequired authenticates dashboard and admin calls with a signed
// user token minted by the identity provider.
func (s *Server) UserTokenRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		userID, err := s.parseUserToken(token)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := callerctx.WithCaller(c.Request.Context(), callerctx.Caller{UserID: userID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ProxyAuth admits proxied calls funded either by an API key (ledger
// balance) or by a signed stablecoin payment proof. A request with
// neither is passed through so the proxy handler can answer with a
// payment offer.
func (s *Server) ProxyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			key, err := s.apiKeySvc.Authenticate(c.Request.Context(), token)
			if err != nil {
				AbortWithError(c, err)
				return
			}

			now := time.Now().UTC()
			if err := s.apiKeySvc.TouchLastUsed(c.Request.Context(), s.db, key.ID, now); err != nil {
				s.log.Warn("api key last-used stamp failed",
					zap.String("key_id", key.KeyID),
					zap.Error(err),
				)
			}

			ctx := callerctx.WithCaller(c.Request.Context(), callerctx.Caller{
				UserID:        key.UserID,
				ApplicationID: key.ApplicationID,
				CredentialID:  key.ID,
			})
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		if header := strings.TrimSpace(c.GetHeader(escrow.PaymentHeader)); header != "" {
			payload, err := decodePaymentHeader(header)
			if err != nil {
				AbortWithError(c, newValidationError("payment", "invalid_payment_header", "invalid payment header"))
				return
			}
			c.Set(contextPaymentPayloadKey, payload)
		}

		c.Next()
	}
}

func (s *Server) parseUserToken(token string) (snowflake.ID, error) {
	secret := strings.TrimSpace(s.cfg.CredentialJWTKey)
	if secret == "" {
		return 0, ErrUnauthorized
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthorized
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return 0, ErrUnauthorized
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return 0, ErrUnauthorized
	}

	userID, err := snowflake.ParseString(subject)
	if err != nil || userID == 0 {
		return 0, ErrUnauthorized
	}
	return userID, nil
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodePaymentHeader(header string) (facilitatordomain.PaymentPayload, error) {
	var payload facilitatordomain.PaymentPayload
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

func paymentFromContext(c *gin.Context) (facilitatordomain.PaymentPayload, bool) {
	value, ok := c.Get(contextPaymentPayloadKey)
	if !ok {
		return facilitatordomain.PaymentPayload{}, false
	}
	payload, ok := value.(facilitatordomain.PaymentPayload)
	return payload, ok
}
