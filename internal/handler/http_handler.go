package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MrChampion2020/etokserver/internal/domain"
	"github.com/MrChampion2020/etokserver/internal/service"
	"github.com/MrChampion2020/etokserver/pkg/log"
	"github.com/MrChampion2020/etokserver/pkg/middleware"
	"github.com/MrChampion2020/etokserver/pkg/response"
)

// HTTPHandler serves the REST side: history, deletes, calls and presence.
type HTTPHandler struct {
	relay    service.MessageRelay
	calls    service.CallCoordinator
	presence service.PresenceService
	auth     *middleware.Authenticator
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	relay service.MessageRelay,
	calls service.CallCoordinator,
	presence service.PresenceService,
	auth *middleware.Authenticator,
) *HTTPHandler {
	return &HTTPHandler{relay: relay, calls: calls, presence: presence, auth: auth}
}

// DeleteMessagesRequest is the body of DELETE /messages.
type DeleteMessagesRequest struct {
	IDs []string `json:"ids"`
}

// RegisterRoutes registers all routes.
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.auth.RequireAuth())
	{
		api.GET("/messages/:peerId", h.GetHistory)
		api.DELETE("/messages", h.DeleteMessages)
		api.GET("/calls", h.ListCalls)
		api.GET("/calls/:callId", h.GetCall)
		api.GET("/presence/:userId", h.GetPresence)
	}
}

// GetHistory returns one page of the conversation with :peerId.
func (h *HTTPHandler) GetHistory(c *gin.Context) {
	userID := middleware.GetUserID(c)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.BadRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	page, err := h.relay.History(c.Request.Context(), userID, c.Param("peerId"), domain.HistoryQuery{
		Cursor:    c.Query("cursor"),
		Limit:     limit,
		Direction: domain.ParseDirection(c.Query("direction")),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, response.Page{
		Items:      page.Messages,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})
}

// DeleteMessages deletes messages the caller sent or received.
func (h *HTTPHandler) DeleteMessages(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req DeleteMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind delete messages request")
		response.BadRequest(c, "body must be {\"ids\": [...]}")
		return
	}

	deleted, err := h.relay.DeleteMany(ctx, middleware.GetUserID(c), req.IDs)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": deleted})
}

// ListCalls pages through the caller's finished calls.
func (h *HTTPHandler) ListCalls(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	records, total, err := h.calls.ListRecords(c.Request.Context(), middleware.GetUserID(c), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, response.List{
		Items:    records,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// GetCall returns one call the caller takes part in.
func (h *HTTPHandler) GetCall(c *gin.Context) {
	call, err := h.calls.Get(c.Request.Context(), middleware.GetUserID(c), c.Param("callId"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, call)
}

// GetPresence returns whether :userId appears online and when it was
// last seen.
func (h *HTTPHandler) GetPresence(c *gin.Context) {
	status, err := h.presence.Get(c.Request.Context(), strings.TrimSpace(c.Param("userId")))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, status)
}

func writeError(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	status := response.StatusForCode(code)
	if status >= 500 {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str(log.FieldPath, c.FullPath()).Msg("request failed")
		_ = c.Error(err)
	}
	response.Error(c, status, code, domain.PublicMessage(err))
}
