package handlers

import (
	"os"

	"github.com/gofiber/fiber/v2"
)

// PageService serves the two browser pages.
type PageService struct {
	IndexFile string
	EditFile  string
}

func (p *PageService) HandleIndex(c *fiber.Ctx) error {
	return sendHTML(c, p.IndexFile)
}

func (p *PageService) HandleEdit(c *fiber.Ctx) error {
	return sendHTML(c, p.EditFile)
}

// sendHTML reads the page on every request; read errors go to the app's
// error handler.
func sendHTML(c *fiber.Ctx, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c.Type("html", "utf-8")
	return c.Send(data)
}
