package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	appdomain "github.com/tollgate-ai/tollgate/internal/app/domain"
	"github.com/tollgate-ai/tollgate/internal/callerctx"
)

func (s *Server) CreateApplication(c *gin.Context) {
	caller, ok := callerctx.FromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req appdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.OwnerID = caller.UserID
	req.AutoProvisioned = false

	resp, err := s.appSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) GetApplication(c *gin.Context) {
	appID, err := parseAppID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.appSvc.Get(c.Request.Context(), appID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeOwner(c, resp); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) UpdateApplicationMarkup(c *gin.Context) {
	appID, err := parseAppID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeOwnerByID(c, appID); err != nil {
		AbortWithError(c, err)
		return
	}

	var req struct {
		MarkupRate string `json:"markup_rate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	rate, err := decimal.NewFromString(req.MarkupRate)
	if err != nil {
		AbortWithError(c, appdomain.ErrInvalidMarkupRate)
		return
	}

	resp, err := s.appSvc.UpdateMarkupRate(c.Request.Context(), appID, rate)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ArchiveApplication(c *gin.Context) {
	appID, err := parseAppID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeOwnerByID(c, appID); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.appSvc.Archive(c.Request.Context(), appID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "archived"})
}

// authorizeOwner confines application management to the owning user.
// Auto-provisioned applications have no owner and stay read-only until
// claimed.
func (s *Server) authorizeOwner(c *gin.Context, app *appdomain.Response) error {
	caller, ok := callerctx.FromContext(c.Request.Context())
	if !ok {
		return ErrUnauthorized
	}
	if app.OwnerID == 0 || app.OwnerID == caller.UserID {
		return nil
	}
	return appdomain.ErrNotFound
}

func (s *Server) authorizeOwnerByID(c *gin.Context, appID snowflake.ID) error {
	app, err := s.appSvc.Get(c.Request.Context(), appID)
	if err != nil {
		return err
	}
	caller, ok := callerctx.FromContext(c.Request.Context())
	if !ok {
		return ErrUnauthorized
	}
	if app.OwnerID != caller.UserID {
		return appdomain.ErrNotFound
	}
	return nil
}

func parseAppID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, newValidationError("id", "invalid_application", "invalid application id")
	}
	return id, nil
}
