package claude

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/phambaophuc/image-relay/internal/models"
	"github.com/phambaophuc/image-relay/internal/services/storage"
	"go.uber.org/zap"
)

const (
	defaultProbeTTL = time.Hour
	probeTimeout    = 15 * time.Second
)

// Prober asks the CLI for its version and help text. Results are advisory
// and cached for a limited time.
type Prober struct {
	client *Client
	cache  storage.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewProber probes the binary configured in opts. cache may be nil.
func NewProber(opts Options, cache storage.Cache, ttl time.Duration, logger *zap.Logger) *Prober {
	if cache == nil {
		cache = storage.NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = defaultProbeTTL
	}
	return &Prober{
		client: NewClient(opts, nil, nil, logger),
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

func (p *Prober) cacheKey() string {
	return storage.CacheKey("claude_probe", p.client.opts.Path, p.client.opts.AttachFlag)
}

// Probe returns cached capabilities or runs the CLI to detect them.
func (p *Prober) Probe(ctx context.Context) (*models.Capabilities, error) {
	key := p.cacheKey()
	if data, err := p.cache.Get(ctx, key); err != nil {
		p.logger.Warn("Probe cache read failed", zap.Error(err))
	} else if data != nil {
		var caps models.Capabilities
		if err := json.Unmarshal(data, &caps); err == nil {
			return &caps, nil
		}
	}

	caps, err := p.detect(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(caps); err == nil {
		if err := p.cache.Set(ctx, key, data, p.ttl); err != nil {
			p.logger.Warn("Probe cache write failed", zap.Error(err))
		}
	}
	return caps, nil
}

// Invalidate drops the cached result so the next Probe runs the CLI again.
func (p *Prober) Invalidate(ctx context.Context) error {
	return p.cache.Delete(ctx, p.cacheKey())
}

func (p *Prober) detect(ctx context.Context) (*models.Capabilities, error) {
	version, err := p.client.run(ctx, "", []string{"--version"}, probeTimeout)
	if err != nil {
		return nil, err
	}
	help, err := p.client.run(ctx, "", []string{"--help"}, probeTimeout)
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(help)
	caps := &models.Capabilities{
		Version:        firstLine(version),
		FileAttachment: strings.Contains(lower, strings.ToLower(p.client.opts.AttachFlag)),
		ImageContent:   strings.Contains(lower, "image"),
		CheckedAt:      time.Now().UTC(),
	}

	p.logger.Info("External tool probed",
		zap.String("version", caps.Version),
		zap.Bool("file_attachment", caps.FileAttachment),
		zap.Bool("image_content", caps.ImageContent))
	return caps, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
