package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/phambaophuc/image-relay/internal/models"
)

// AttachmentStrategy turns a batch into the arguments that carry its images.
// The returned cleanup is always non-nil and runs once the process exits.
type AttachmentStrategy interface {
	Name() string
	Prepare(ctx context.Context, req models.BatchRequest) (args []string, cleanup func(), err error)
}

// DirectAttachment passes every image path as an argument, followed by the
// prompt after a "--" so a prompt starting with a dash is never read as a
// flag.
type DirectAttachment struct {
	// Flag precedes each path. Paths are positional when it is empty.
	Flag string
}

func (DirectAttachment) Name() string { return "direct" }

func (d DirectAttachment) Prepare(_ context.Context, req models.BatchRequest) ([]string, func(), error) {
	args := make([]string, 0, 2*len(req.Images)+2)
	for _, img := range req.Images {
		if d.Flag != "" {
			args = append(args, d.Flag)
		}
		args = append(args, img.Path)
	}
	args = append(args, "--", req.Prompt)
	return args, func() {}, nil
}

// StructuredInput writes one JSON message holding the prompt and every image
// as base64 content, and passes the file instead of per-image arguments.
type StructuredInput struct {
	Dir  string
	Flag string
}

func (StructuredInput) Name() string { return "structured" }

type inputDocument struct {
	Messages []inputMessage `json:"messages"`
}

type inputMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	Source   *imageSource `json:"source,omitempty"`
	Filename string       `json:"filename,omitempty"`
	Caption  *string      `json:"caption,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// BuildInput assembles the structured input document for a batch. Image
// payloads come from ProcessedImage.Base64, which caches the encoding.
func BuildInput(req models.BatchRequest) ([]byte, error) {
	content := make([]contentBlock, 0, len(req.Images)+1)
	content = append(content, contentBlock{Type: "text", Text: req.Prompt})

	for _, img := range req.Images {
		data, err := img.Base64()
		if err != nil {
			return nil, err
		}
		var caption *string
		if img.HasCaption() {
			caption = img.Caption
		}
		content = append(content, contentBlock{
			Type: "image",
			Source: &imageSource{
				Type:      "base64",
				MediaType: img.MediaType(),
				Data:      data,
			},
			Filename: img.Filename,
			Caption:  caption,
		})
	}

	return json.Marshal(inputDocument{
		Messages: []inputMessage{{Role: "user", Content: content}},
	})
}

func (s StructuredInput) Prepare(ctx context.Context, req models.BatchRequest) ([]string, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, func() {}, err
	}

	doc, err := BuildInput(req)
	if err != nil {
		return nil, func() {}, fmt.Errorf("build structured input: %w", err)
	}

	dir := s.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "input_"+uuid.New().String()+".json")
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		os.Remove(path)
		return nil, func() {}, fmt.Errorf("write structured input: %w", err)
	}

	return []string{s.Flag, path}, func() { os.Remove(path) }, nil
}
