package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetgenius/sheetgenius/internal/pkg/formula"
	"github.com/sheetgenius/sheetgenius/internal/pkg/openai"
	"github.com/sheetgenius/sheetgenius/internal/pkg/usercontext"
)

type stubGenerator struct {
	result *formula.Result
	err    error

	calls int
}

func (s *stubGenerator) Generate(ctx context.Context, userID uint, prompt string) (*formula.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newFormulaTestApp(loggedIn bool) *fiber.App {
	app := fiber.New()
	app.Post("/generate", func(c *fiber.Ctx) error {
		if loggedIn {
			c.Locals("USER_CONTEXT", usercontext.UserContext{
				UserID:     7,
				Username:   "tester",
				IsLoggedIn: true,
				Plan:       "free",
			})
		}
		return HandleGenerateFormula(c)
	})
	return app
}

func postGenerate(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestHandleGenerateFormulaUnauthorized(t *testing.T) {
	app := newFormulaTestApp(false)
	resp := postGenerate(t, app, `{"prompt":"sum column A"}`)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestHandleGenerateFormulaMissingPrompt(t *testing.T) {
	// The empty-prompt check fires before the formula service is touched, so
	// a nil service proves no model call happens.
	InitFormulaController(nil)
	app := newFormulaTestApp(true)

	for _, body := range []string{`{}`, `{"prompt":""}`, `{"prompt":"   "}`} {
		resp := postGenerate(t, app, body)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "body %s", body)
	}
}

func TestHandleGenerateFormulaSuccess(t *testing.T) {
	gen := &stubGenerator{result: &formula.Result{
		Formula:     "=SUM(A1:A10)",
		Explanation: "Adds the range.",
		Remaining:   2,
	}}
	InitFormulaController(gen)
	app := newFormulaTestApp(true)

	resp := postGenerate(t, app, `{"prompt":"sum column A"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "=SUM(A1:A10)", body["formula"])
	assert.Equal(t, "Adds the range.", body["explanation"])
	assert.Equal(t, float64(2), body["remaining"])
	assert.Equal(t, 1, gen.calls)
}

func TestHandleGenerateFormulaQuotaExceeded(t *testing.T) {
	gen := &stubGenerator{err: formula.ErrQuotaExceeded}
	InitFormulaController(gen)
	app := newFormulaTestApp(true)

	resp := postGenerate(t, app, `{"prompt":"sum column A"}`)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "quota_exceeded", body["error"])
}

func TestHandleGenerateFormulaModelKeyMissing(t *testing.T) {
	gen := &stubGenerator{err: openai.ErrNotConfigured}
	InitFormulaController(gen)
	app := newFormulaTestApp(true)

	resp := postGenerate(t, app, `{"prompt":"sum column A"}`)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "openai_not_configured", body["error"])
}
