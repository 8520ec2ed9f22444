package http

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"goflare.io/payout"
	"goflare.io/payout/models/enum"
	"goflare.io/payout/webhook"
)

type Handler struct {
	svc    payout.Service
	logger *zap.Logger
}

func NewHandler(svc payout.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Register(app *fiber.App) {
	app.Get("/health", h.Health)

	api := app.Group("/api/pay")
	api.Post("/webhook", h.Webhook)
	api.Post("/onboarding", h.IssueOnboardingLink)
	api.Post("/onboarding/:accountId/refresh", h.RefreshOnboardingLink)
	api.Get("/accounts/:accountId", h.GetAccount)
	api.Get("/accounts/:accountId/events", h.ListAccountEvents)
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.SendString("OK")
}

type onboardingRequest struct {
	OwnerEmail string `json:"ownerEmail"`
}

type onboardingResponse struct {
	Success   bool       `json:"success"`
	AccountID string     `json:"accountId,omitempty"`
	URL       string     `json:"url,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Webhook receives Stripe deliveries. The body is passed on untouched since
// the signature covers the exact bytes sent.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	result, err := h.svc.HandleWebhook(c.UserContext(), c.Body(), c.Get(webhook.SignatureHeader))
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"received": true, "outcome": result.Outcome})
	case payout.IsDropped(err):
		// Retrying cannot fix these, so the delivery is acknowledged.
		return c.JSON(fiber.Map{"received": true, "outcome": enum.EventOutcomeDropped, "error": err.Error()})
	case errors.Is(err, webhook.ErrSignatureInvalid),
		errors.Is(err, webhook.ErrReplayRejected),
		errors.Is(err, webhook.ErrMalformedPayload):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	default:
		h.logger.Error("Webhook processing failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}

func (h *Handler) IssueOnboardingLink(c *fiber.Ctx) error {
	var req onboardingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(onboardingResponse{Error: "invalid_json"})
	}

	link, err := h.svc.IssueOnboardingLink(c.UserContext(), req.OwnerEmail)
	if err != nil {
		return h.onboardingError(c, err)
	}

	return c.JSON(onboardingResponse{
		Success:   true,
		AccountID: link.AccountID,
		URL:       link.URL,
		ExpiresAt: &link.ExpiresAt,
	})
}

func (h *Handler) RefreshOnboardingLink(c *fiber.Ctx) error {
	link, err := h.svc.RefreshOnboardingLink(c.UserContext(), c.Params("accountId"))
	if err != nil {
		return h.onboardingError(c, err)
	}

	return c.JSON(onboardingResponse{
		Success:   true,
		AccountID: link.AccountID,
		URL:       link.URL,
		ExpiresAt: &link.ExpiresAt,
	})
}

func (h *Handler) onboardingError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, payout.ErrInvalidEmail):
		status, msg = fiber.StatusBadRequest, "invalid owner email"
	case errors.Is(err, payout.ErrProcessorUnavailable):
		status, msg = fiber.StatusServiceUnavailable, "payment processor unavailable, try again"
	case errors.Is(err, payout.ErrUnknownAccount):
		status, msg = fiber.StatusNotFound, "account not found"
	case errors.Is(err, payout.ErrInvalidTransition):
		status, msg = fiber.StatusConflict, "account is no longer awaiting onboarding"
	default:
		h.logger.Error("Onboarding request failed", zap.Error(err))
	}
	return c.Status(status).JSON(onboardingResponse{Error: msg})
}

func (h *Handler) GetAccount(c *fiber.Ctx) error {
	acct, err := h.svc.GetAccount(c.UserContext(), c.Params("accountId"))
	if err != nil {
		return h.lookupError(c, err)
	}
	return c.JSON(acct)
}

func (h *Handler) ListAccountEvents(c *fiber.Ctx) error {
	limit, err := strconv.ParseUint(c.Query("limit", "50"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid limit"})
	}

	events, err := h.svc.ListAccountEvents(c.UserContext(), c.Params("accountId"), limit)
	if err != nil {
		return h.lookupError(c, err)
	}
	return c.JSON(fiber.Map{"events": events})
}

func (h *Handler) lookupError(c *fiber.Ctx, err error) error {
	if errors.Is(err, payout.ErrUnknownAccount) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "account not found"})
	}
	h.logger.Error("Account lookup failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}
