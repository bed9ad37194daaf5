package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/Ananth-NQI/hotelchat-backend/internal/middleware"
	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
	"github.com/Ananth-NQI/hotelchat-backend/internal/services"
	"github.com/Ananth-NQI/hotelchat-backend/internal/storage"
)

const stopTimeout = 15 * time.Second

// SessionService is the session manager as the HTTP layer uses it
type SessionService interface {
	Start(ctx context.Context, hotelID, sessionName string) (services.StartResult, error)
	Stop(ctx context.Context, hotelID, sessionName string) error
	GetSession(ctx context.Context, hotelID, sessionName string) (*models.WhatsAppSession, error)
	GetActiveSessions() []services.SessionInfo
}

// SessionHandler handles session lifecycle requests
type SessionHandler struct {
	sessions SessionService
	log      zerolog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions SessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      log.With().Str("component", "http").Logger(),
	}
}

type sessionRequest struct {
	TenantID    string `json:"tenantId"`
	HotelID     string `json:"hotel_id"`
	SessionName string `json:"sessionName"`
}

func (r sessionRequest) tenant() string {
	if r.TenantID != "" {
		return strings.TrimSpace(r.TenantID)
	}
	return strings.TrimSpace(r.HotelID)
}

// splitSessionKey turns "tenant" or "tenant:name" into its parts
func splitSessionKey(key string) (string, string) {
	tenant, name, _ := strings.Cut(strings.TrimSpace(key), ":")
	return tenant, name
}

// Start begins a tenant session. Establishment failures only show up in the session state.
func (h *SessionHandler) Start(c *fiber.Ctx) error {
	var req sessionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	tenant := req.tenant()
	if tenant == "" {
		return badRequest(c, "tenantId is required")
	}
	if err := middleware.CheckTenant(c, tenant); err != nil {
		return respondError(c, err)
	}

	res, err := h.sessions.Start(c.UserContext(), tenant, req.SessionName)
	if err != nil {
		h.log.Error().Err(err).Str("tenant", tenant).Msg("Start session failed")
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"status":     res,
		"sessionKey": models.SessionKey(tenant, req.SessionName),
	})
}

// Stop disconnects a tenant session
func (h *SessionHandler) Stop(c *fiber.Ctx) error {
	var req sessionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	tenant := req.tenant()
	if tenant == "" {
		return badRequest(c, "tenantId is required")
	}
	if err := middleware.CheckTenant(c, tenant); err != nil {
		return respondError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), stopTimeout)
	defer cancel()
	if err := h.sessions.Stop(ctx, tenant, req.SessionName); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "STOPPING"})
		}
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"status": models.SessionDisconnected,
	})
}

// Get returns the persisted session record so the inbox can poll it
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	tenant, name := splitSessionKey(c.Params("tenantId"))
	if q := c.Query("sessionName"); q != "" {
		name = q
	}
	if err := middleware.CheckTenant(c, tenant); err != nil {
		return respondError(c, err)
	}

	session, err := h.sessions.GetSession(c.UserContext(), tenant, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(&models.WhatsAppSession{
				ID:          models.SessionKey(tenant, name),
				HotelID:     tenant,
				SessionName: sessionNameOrDefault(name),
				Status:      models.SessionUninitialized,
			})
		}
		return respondError(c, err)
	}

	return c.JSON(session)
}

// Active lists the sessions held by this process
func (h *SessionHandler) Active(c *fiber.Ctx) error {
	active := h.sessions.GetActiveSessions()
	if bound := middleware.BoundTenant(c); bound != "" {
		own := make([]services.SessionInfo, 0, len(active))
		for _, s := range active {
			if s.HotelID == bound {
				own = append(own, s)
			}
		}
		active = own
	}
	return c.JSON(fiber.Map{
		"count":    len(active),
		"sessions": active,
	})
}

func sessionNameOrDefault(name string) string {
	if name == "" {
		return models.DefaultSessionName
	}
	return name
}
