package processor

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/phambaophuc/image-relay/internal/models"
)

// ScanInput is what a SecurityScanner gets to inspect.
type ScanInput struct {
	Data     []byte
	Filename string
	Format   models.ImageFormat
}

// SecurityScanner performs content-level checks beyond format sniffing.
// Any returned error rejects the upload.
type SecurityScanner interface {
	Scan(ctx context.Context, in ScanInput) error
}

// ScannerFunc adapts a function to SecurityScanner.
type ScannerFunc func(ctx context.Context, in ScanInput) error

func (f ScannerFunc) Scan(ctx context.Context, in ScanInput) error { return f(ctx, in) }

// ChainScanner runs scanners in order and stops at the first rejection.
type ChainScanner []SecurityScanner

func (c ChainScanner) Scan(ctx context.Context, in ScanInput) error {
	for _, s := range c {
		if err := s.Scan(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

var blockedExtensions = map[string]bool{
	".exe": true, ".dll": true, ".bat": true, ".cmd": true, ".sh": true,
	".php": true, ".phtml": true, ".jsp": true, ".asp": true, ".aspx": true,
	".js": true, ".html": true, ".htm": true, ".svg": true, ".xml": true,
}

var embeddedMarkers = [][]byte{
	[]byte("<script"),
	[]byte("<?php"),
	[]byte("<%@"),
	[]byte("<html"),
	[]byte("javascript:"),
	[]byte("#!/"),
}

// archiveMarkers catch image/archive polyglots.
var archiveMarkers = [][]byte{
	[]byte("PK\x03\x04"),
	[]byte("Rar!\x1a\x07"),
	[]byte("7z\xbc\xaf\x27\x1c"),
}

// BasicScanner rejects executable-looking names, extensions that claim a
// different image format than the content, and markup or archives hidden in
// metadata chunks or after the image's end marker.
type BasicScanner struct{}

func NewBasicScanner() *BasicScanner {
	return &BasicScanner{}
}

func (s *BasicScanner) Scan(ctx context.Context, in ScanInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(in.Filename))
	if blockedExtensions[ext] {
		return fmt.Errorf("blocked file extension %s", ext)
	}
	// Double extensions such as photo.php.jpg.
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(in.Filename), filepath.Ext(in.Filename)))
	if inner := filepath.Ext(base); blockedExtensions[inner] {
		return fmt.Errorf("blocked inner extension %s", inner)
	}
	if declared, ok := models.FormatFromExtension(ext); ok && in.Format != "" && declared != in.Format {
		return fmt.Errorf("extension %s does not match %s content", ext, in.Format)
	}

	for _, region := range scanRegions(in.Data, in.Format) {
		lower := bytes.ToLower(region)
		for _, marker := range embeddedMarkers {
			if bytes.Contains(lower, marker) {
				return fmt.Errorf("embedded markup %q found in %s data", marker, in.Format)
			}
		}
		for _, marker := range archiveMarkers {
			if bytes.Contains(region, marker) {
				return fmt.Errorf("embedded archive signature found in %s data", in.Format)
			}
		}
	}
	return nil
}
