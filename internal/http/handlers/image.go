package handlers

import (
	"github.com/gofiber/fiber/v2"

	"pdf2png/internal/domain"
	"pdf2png/internal/normalize"
)

type saveEditedImageRequest struct {
	ImageData string `json:"image_data"`
}

// ImageService normalizes edited page images posted by the editor.
type ImageService struct {
	normalize func(dataURI string) ([]byte, error)
}

// NewImageService returns an ImageService backed by normalize.Normalize.
func NewImageService() *ImageService {
	return &ImageService{normalize: normalize.Normalize}
}

// HandleSaveEdited handles POST /save-edited-image/. Every failure is
// reported as 200 with an error body.
func (svc *ImageService) HandleSaveEdited(c *fiber.Ctx) error {
	var req saveEditedImageRequest
	if err := c.App().Config().JSONDecoder(c.Body(), &req); err != nil {
		return writeError(c, fiber.StatusOK, "save edited image", domain.Decode("parse body", err))
	}

	png, err := svc.normalize(req.ImageData)
	if err != nil {
		return writeError(c, fiber.StatusOK, "save edited image", err)
	}

	c.Set(fiber.HeaderContentType, domain.PNGMediaType)
	return c.Send(png)
}
