package handlers

import (
	"mime"
	"strings"

	"github.com/gofiber/fiber/v2"

	"pdf2png/internal/domain"
	"pdf2png/internal/http/middleware"
	"pdf2png/internal/infra/logging"
)

// writeError answers with the flat {"error": "<message>"} body the browser
// pages expect.
func writeError(c *fiber.Ctx, status int, op string, err error) error {
	logging.Warn("Request failed",
		"op", op,
		"kind", domain.KindOf(err).String(),
		"status", status,
		"error", err,
		"request_id", middleware.RequestID(c),
	)
	return c.Status(status).JSON(fiber.Map{"error": domain.Message(err)})
}

// hasMediaType reports whether a Content-Type header value names want,
// ignoring parameters and case.
func hasMediaType(header, want string) bool {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		mt = strings.TrimSpace(strings.SplitN(header, ";", 2)[0])
	}
	return strings.EqualFold(mt, want)
}
