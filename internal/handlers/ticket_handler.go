package handlers

import (
	"net/http"
	"time"

	"ledger-backend/internal/dto"
	"ledger-backend/internal/models"
	"ledger-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// TicketHandler verification ticket purchase and consumption
type TicketHandler struct {
	tickets *services.TicketService
}

// NewTicketHandler create
func NewTicketHandler(tickets *services.TicketService) *TicketHandler {
	return &TicketHandler{tickets: tickets}
}

// IssueTicketHandler POST /api/tickets
func (h *TicketHandler) IssueTicketHandler(c *gin.Context) {
	var req dto.IssueTicketRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", err.Error())
		return
	}
	if req.TTLSeconds < 0 || req.MaxUses < 0 {
		badRequest(c, "INVALID_TICKET_REQUEST", "max_uses and ttl_seconds must not be negative")
		return
	}

	address, role := currentUser(c)
	ticket, err := h.tickets.IssueTicket(c.Request.Context(), services.IssueTicketRequest{
		Wallet:         address,
		Role:           role,
		SubjectTokenID: req.SubjectTokenID,
		Scope:          req.Scope,
		MaxUses:        req.MaxUses,
		TTL:            time.Duration(req.TTLSeconds) * time.Second,
		ActionID:       req.ActionID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.ticketResponse(ticket)})
}

// GetTicketHandler GET /api/tickets/:ticket
func (h *TicketHandler) GetTicketHandler(c *gin.Context) {
	ticket, err := h.tickets.GetTicket(c.Request.Context(), c.Param("ticket"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.ticketResponse(ticket)})
}

// ListTicketsHandler GET /api/tickets
func (h *TicketHandler) ListTicketsHandler(c *gin.Context) {
	address, _ := currentUser(c)
	page, limit := pagination(c)
	tickets, total, err := h.tickets.ListTickets(c.Request.Context(), address, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	data := make([]dto.TicketResponse, 0, len(tickets))
	for _, t := range tickets {
		data = append(data, h.ticketResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
		"total":   total,
		"page":    page,
		"limit":   limit,
	})
}

// ConsumeTicketHandler POST /api/tickets/:ticket/consume (user JWT)
func (h *TicketHandler) ConsumeTicketHandler(c *gin.Context) {
	address, _ := currentUser(c)
	h.consume(c, services.Actor{Type: models.ActorInternal, ID: address})
}

// PartnerConsumeTicketHandler POST /api/partner/tickets/:ticket/consume (API key)
func (h *TicketHandler) PartnerConsumeTicketHandler(c *gin.Context) {
	h.consume(c, services.Actor{Type: models.ActorAPIKey, ID: c.GetString(ContextAPIKeyName)})
}

func (h *TicketHandler) consume(c *gin.Context, actor services.Actor) {
	result, err := h.tickets.ConsumeTicket(c.Request.Context(), c.Param("ticket"), actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"verified":       result.Verified,
		"usedTimes":      result.UsedTimes,
		"maxVerifyTimes": result.MaxVerifyTimes,
	})
}

func (h *TicketHandler) ticketResponse(t *models.VerificationTicket) dto.TicketResponse {
	return dto.TicketResponse{
		Ticket:         t.Ticket,
		UserAddress:    t.UserAddress,
		SubjectTokenID: t.SubjectTokenID,
		Scope:          t.Scope,
		ExpireAt:       t.ExpireAt,
		MaxUses:        t.MaxUses,
		UsedTimes:      t.UsedTimes,
		State:          t.State(h.tickets.Now()),
	}
}
