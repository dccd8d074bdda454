package client

import (
	"context"

	"github.com/menta2k/emoji-faces/pkg/types"
)

// VisionClient is a vision model backend able to answer free-form questions
// about an image and to locate faces in it.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	LocateFaces(ctx context.Context, model, prompt, imgB64 string) (*types.FaceAnalysis, error)
}
