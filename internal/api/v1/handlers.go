package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/sheetgenius/sheetgenius/app/controllers"
	"github.com/sheetgenius/sheetgenius/internal/pkg/middleware"
)

// APIServer implements the public v1 API surface
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// GetStats returns public aggregate statistics
func (s *APIServer) GetStats(c *fiber.Ctx) error {
	return controllers.HandleStats(c)
}

// GetPricing lists the plan tiers and price ids
func (s *APIServer) GetPricing(c *fiber.Ctx) error {
	return controllers.HandlePricing(c)
}

// PostRegister creates a new account and returns the initial API key
func (s *APIServer) PostRegister(c *fiber.Ctx) error {
	return controllers.HandleRegister(c)
}

// PostRotateAPIKey replaces the API key for an email/password credential pair
func (s *APIServer) PostRotateAPIKey(c *fiber.Ctx) error {
	return controllers.HandleRotateAPIKey(c)
}

// GetUserProfile returns account information for the authenticated user.
// Security is enforced via API key middleware attached in RegisterHandlers.
func (s *APIServer) GetUserProfile(c *fiber.Ctx) error {
	return controllers.HandleGetUserAccount(c)
}

// PostCheckoutSession creates a payment-processor checkout session
func (s *APIServer) PostCheckoutSession(c *fiber.Ctx) error {
	return controllers.HandleCreateCheckoutSession(c)
}

// PostPortalSession opens a billing portal session for the authenticated user
func (s *APIServer) PostPortalSession(c *fiber.Ctx) error {
	return controllers.HandleCreatePortalSession(c)
}

// PostGenerateFormula generates a spreadsheet formula from a prompt
func (s *APIServer) PostGenerateFormula(c *fiber.Ctx) error {
	return controllers.HandleGenerateFormula(c)
}

// GetGenerationHistory returns a page of the user's past generations
func (s *APIServer) GetGenerationHistory(c *fiber.Ctx) error {
	return controllers.HandleGenerationHistory(c)
}

// PostRefreshStats rebuilds the cached aggregate statistics on demand
func (s *APIServer) PostRefreshStats(c *fiber.Ctx) error {
	return controllers.HandleRefreshStats(c)
}

// Pong is the ping endpoint response body
type Pong struct {
	Ping string `json:"ping"`
}

// RegisterHandlers attaches all v1 routes to the given router group.
func RegisterHandlers(r fiber.Router, s *APIServer) {
	r.Get("/ping", s.GetPing)
	r.Get("/stats", s.GetStats)
	r.Get("/pricing", s.GetPricing)

	r.Post("/auth/register", s.PostRegister)
	r.Post("/auth/api-key", s.PostRotateAPIKey)

	// Checkout carries its own userId parameter for webhook correlation and
	// mirrors the hosted-pricing-page flow, so it stays unauthenticated.
	r.Post("/billing/checkout", s.PostCheckoutSession)

	protected := r.Group("", middleware.APIKeyAuthMiddleware())
	protected.Get("/user", s.GetUserProfile)
	protected.Post("/billing/portal", s.PostPortalSession)
	protected.Post("/formula/generate", s.PostGenerateFormula)
	protected.Get("/formula/history", s.GetGenerationHistory)

	admin := protected.Group("/admin", middleware.RequireAPIAdmin)
	admin.Post("/stats/refresh", s.PostRefreshStats)
}
