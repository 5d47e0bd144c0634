package session

import (
	"fmt"
	"strings"

	"github.com/phambaophuc/image-relay/internal/models"
)

// BuildPrompt appends a numbered image list to the instruction. Numbers
// follow batch order so "image 2" means the second image the user sent.
func BuildPrompt(instruction string, images []*models.ProcessedImage) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(instruction))
	if len(images) == 0 {
		return b.String()
	}

	fmt.Fprintf(&b, "\n\nAttached images (%d):", len(images))
	for i, img := range images {
		fmt.Fprintf(&b, "\n%d. %s", i+1, img.Filename)
		if img.HasCaption() {
			fmt.Fprintf(&b, " (caption: %s)", *img.Caption)
		}
	}
	return b.String()
}
