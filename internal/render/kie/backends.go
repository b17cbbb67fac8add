package kie

import "github.com/prompt-alchemy/render-be/internal/render/domain"

// backend describes one remote rendering pipeline. The pipelines accept the
// same semantic inputs but disagree on field names, so each backend carries
// its own names for the reference-image list and the output size.
type backend struct {
	model      string
	imageField string
	sizeField  string
}

// backendFor picks the rendering pipeline for a request. The nsfc mode routes
// to the unrestricted backend; everything else uses the standard one.
func (c *Client) backendFor(mode domain.GenerationMode) backend {
	if mode == domain.ModeNSFC {
		return backend{
			model:      c.cfg.UnrestrictedModel,
			imageField: "reference_images",
			sizeField:  "resolution",
		}
	}
	return backend{
		model:      c.cfg.StandardModel,
		imageField: "image_urls",
		sizeField:  "image_size",
	}
}
