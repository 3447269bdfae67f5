package domain

import "context"

// Template names a render service template.
type Template string

const (
	TemplateBanner       Template = "banner"
	TemplateProfileImage Template = "profileImage"
)

type RenderRequest struct {
	Template        Template
	ForegroundID    string
	BackgroundID    string
	ForegroundProps map[string]any
	BackgroundProps map[string]any
}

// Renderer produces PNG images from templates.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) ([]byte, error)
}
