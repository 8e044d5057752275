package negotiation

import (
	"time"

	"github.com/freightmatch/freight-api/internal/types"
	"github.com/freightmatch/freight-api/pkg/response"
	"github.com/gin-gonic/gin"
)

// GinHandlers contains HTTP handlers for quote endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for quote endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// SubmitQuoteHandler handles POST requests to submit a quote against a load.
// Requires a carrier-role JWT.
func (h *GinHandlers) SubmitQuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("userRole") != types.RoleCarrier {
			response.Forbidden(c, "Only carriers can submit quotes")
			return
		}

		var req SubmitQuoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		quote, err := h.service.SubmitQuote(c.GetString("userID"), &req)
		response.Handle(c, quote, err)
	}
}

// AcceptQuoteHandler handles POST requests to accept a pending quote.
// Requires the shipper owning the quoted load.
func (h *GinHandlers) AcceptQuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("userRole") != types.RoleShipper {
			response.Forbidden(c, "Only shippers can accept quotes")
			return
		}

		result, err := h.service.AcceptQuote(c.GetString("userID"), c.Param("quote_id"))
		response.Handle(c, result, err)
	}
}

// RejectQuoteHandler handles POST requests to reject a pending quote.
func (h *GinHandlers) RejectQuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("userRole") != types.RoleShipper {
			response.Forbidden(c, "Only shippers can reject quotes")
			return
		}

		quote, err := h.service.RejectQuote(c.GetString("userID"), c.Param("quote_id"))
		response.Handle(c, quote, err)
	}
}

// GetQuoteHandler handles GET requests for a single quote, visible to the
// bidding carrier and the load's shipper.
func (h *GinHandlers) GetQuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		quote, err := h.service.GetQuote(c.GetString("userID"), c.Param("quote_id"))
		response.Handle(c, quote, err)
	}
}

// ExpireSweepHandler handles internal POST requests to run an expiry sweep
// immediately, alongside the background processor.
func (h *GinHandlers) ExpireSweepHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		expired, err := h.service.ExpireDueQuotes(time.Now())
		response.Handle(c, gin.H{"expired_count": expired}, err)
	}
}
