package handlers

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
	"github.com/kzinvogon/apoyar-chat/internal/repository"
)

func sessionQueryFor(t *testing.T, target string) repository.SessionFilter {
	t.Helper()
	app := fiber.New()
	var got repository.SessionFilter
	app.Get("/chat/sessions", func(c *fiber.Ctx) error {
		got = parseSessionQuery(c)
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, target, nil))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	return got
}

func TestSessionQueryDefaultsToWaiting(t *testing.T) {
	filter := sessionQueryFor(t, "/chat/sessions")

	assert.Equal(t, []domain.SessionStatus{domain.SessionStatusWaiting}, filter.Statuses)
	assert.Nil(t, filter.AgentID)
	assert.Equal(t, 0, filter.Offset)
	assert.Equal(t, 20, filter.Limit)
}

func TestSessionQueryParsesExplicitFilters(t *testing.T) {
	filter := sessionQueryFor(t, "/chat/sessions?status=active,closed&agent_id=a1&page=3&page_size=10")

	assert.Equal(t, []domain.SessionStatus{domain.SessionStatusActive, domain.SessionStatusClosed}, filter.Statuses)
	require.NotNil(t, filter.AgentID)
	assert.Equal(t, "a1", *filter.AgentID)
	assert.Equal(t, 20, filter.Offset)
	assert.Equal(t, 10, filter.Limit)
}

func TestSessionQueryNormalizesStatusCase(t *testing.T) {
	filter := sessionQueryFor(t, "/chat/sessions?status=waiting,%20Active")

	assert.Equal(t, []domain.SessionStatus{domain.SessionStatusWaiting, domain.SessionStatusActive}, filter.Statuses)
}
