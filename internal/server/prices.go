package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	pricingdomain "github.com/tollgate-ai/tollgate/internal/pricing/domain"
)

type upsertPriceRequest struct {
	ApplicationID       string `json:"application_id"`
	Model               string `json:"model"`
	Provider            string `json:"provider"`
	InputPricePerToken  string `json:"input_price_per_token"`
	OutputPricePerToken string `json:"output_price_per_token"`
}

func (s *Server) UpsertModelPrice(c *gin.Context) {
	var body upsertPriceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	inputPrice, err := decimal.NewFromString(strings.TrimSpace(body.InputPricePerToken))
	if err != nil {
		AbortWithError(c, pricingdomain.ErrInvalidPrice)
		return
	}
	outputPrice, err := decimal.NewFromString(strings.TrimSpace(body.OutputPricePerToken))
	if err != nil {
		AbortWithError(c, pricingdomain.ErrInvalidPrice)
		return
	}

	price := &pricingdomain.ModelPrice{
		ID:                  s.genID.Generate(),
		Model:               strings.TrimSpace(body.Model),
		Provider:            strings.TrimSpace(body.Provider),
		InputPricePerToken:  inputPrice,
		OutputPricePerToken: outputPrice,
		CreatedAt:           time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}
	// Owners maintain their own price list; global defaults come from
	// the seed job.
	appID, err := parseAppID(body.ApplicationID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeOwnerByID(c, appID); err != nil {
		AbortWithError(c, err)
		return
	}
	price.ApplicationID = appID

	if err := s.pricingSvc.Upsert(c.Request.Context(), price); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
