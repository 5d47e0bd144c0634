// Package claude runs the external CLI for a finalized image batch.
package claude

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/phambaophuc/image-relay/internal/config"
	"github.com/phambaophuc/image-relay/internal/metrics"
	"github.com/phambaophuc/image-relay/internal/models"
	"go.uber.org/zap"
)

const (
	defaultTimeout    = 300 * time.Second
	defaultAttachFlag = "--file"
	defaultInputFlag  = "--input-file"
	// waitDelay bounds how long Wait blocks on output pipes after a kill.
	waitDelay = 2 * time.Second
)

type Options struct {
	Path    string
	Timeout time.Duration
	WorkDir string
	// Attachment is config.AttachmentAuto, AttachmentOn or AttachmentOff.
	Attachment string
	AttachFlag string
	InputFlag  string
	InputDir   string
	ExtraArgs  []string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Path:       cfg.Claude.Path,
		Timeout:    cfg.Claude.Timeout,
		WorkDir:    cfg.Claude.WorkDir,
		Attachment: cfg.Claude.FileAttachment,
		InputDir:   cfg.Storage.TempDir,
		ExtraArgs:  cfg.Claude.ExtraArgs,
	}
}

// Client invokes the CLI once per batch.
type Client struct {
	opts   Options
	prober *Prober
	parser OutputParser
	logger *zap.Logger
}

// NewClient returns a client. prober may be nil when attachment is forced on
// or off; parser defaults to the rule parser.
func NewClient(opts Options, prober *Prober, parser OutputParser, logger *zap.Logger) *Client {
	if opts.Path == "" {
		opts.Path = "claude"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Attachment == "" {
		opts.Attachment = config.AttachmentAuto
	}
	if opts.AttachFlag == "" {
		opts.AttachFlag = defaultAttachFlag
	}
	if opts.InputFlag == "" {
		opts.InputFlag = defaultInputFlag
	}
	if parser == nil {
		parser = NewRuleParser()
	}
	return &Client{opts: opts, prober: prober, parser: parser, logger: logger}
}

// Strategy picks how images are attached for the next call.
func (c *Client) Strategy(ctx context.Context) AttachmentStrategy {
	direct := DirectAttachment{Flag: c.opts.AttachFlag}
	structured := StructuredInput{Dir: c.opts.InputDir, Flag: c.opts.InputFlag}

	switch c.opts.Attachment {
	case config.AttachmentOn:
		return direct
	case config.AttachmentOff:
		return structured
	}

	if c.prober == nil {
		return structured
	}
	caps, err := c.prober.Probe(ctx)
	if err != nil {
		c.logger.Warn("Capability probe failed, using structured input", zap.Error(err))
		return structured
	}
	if caps.FileAttachment {
		return direct
	}
	return structured
}

// Invoke runs the CLI for one batch and parses its output.
func (c *Client) Invoke(ctx context.Context, req models.BatchRequest) (*models.InvocationResult, error) {
	strategy := c.Strategy(ctx)

	attachArgs, cleanup, err := strategy.Prepare(ctx, req)
	defer cleanup()
	if err != nil {
		return nil, models.NewError(models.KindGenericFailure, "prepare", err)
	}

	args := c.baseArgs(req)
	args = append(args, attachArgs...)

	dir := req.WorkDir
	if dir == "" {
		dir = c.opts.WorkDir
	}

	c.logger.Info("Invoking external tool",
		zap.String("session_id", req.SessionID),
		zap.String("strategy", strategy.Name()),
		zap.Int("images", len(req.Images)),
		zap.Bool("resume", req.ContinuationToken != nil))

	start := time.Now()
	stdout, err := c.run(ctx, dir, args, c.opts.Timeout)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveInvocation(strategy.Name(), string(models.KindOf(err)), duration)
		return nil, err
	}

	parsed := c.parser.Parse(stdout)
	if parsed.IsError {
		metrics.ObserveInvocation(strategy.Name(), string(models.KindProcessFailure), duration)
		return nil, models.Errorf(models.KindProcessFailure, "invoke", "tool reported an error: %s", parsed.Text)
	}
	metrics.ObserveInvocation(strategy.Name(), "ok", duration)

	return &models.InvocationResult{
		Output:            parsed.Text,
		ContinuationToken: parsed.Token,
		Cost:              parsed.Cost,
		Duration:          duration,
		Success:           true,
		Strategy:          strategy.Name(),
	}, nil
}

func (c *Client) baseArgs(req models.BatchRequest) []string {
	args := []string{"--print", "--output-format", "json"}
	if req.ContinuationToken != nil && *req.ContinuationToken != "" {
		args = append(args, "--resume", *req.ContinuationToken)
	}
	return append(args, c.opts.ExtraArgs...)
}

// run starts the CLI and races it against the timeout. On timeout or
// cancellation the process is killed; kill errors are ignored.
func (c *Client) run(ctx context.Context, dir string, args []string, timeout time.Duration) (string, error) {
	cmd := exec.Command(c.opts.Path, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", models.NewError(models.KindGenericFailure, "start", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err == nil {
			return stdout.String(), nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return "", models.Errorf(models.KindProcessFailure, "invoke", "exit code %d: %s", exitErr.ExitCode(), msg)
			}
			return "", models.Errorf(models.KindProcessFailure, "invoke", "exit code %d", exitErr.ExitCode())
		}
		return "", models.NewError(models.KindGenericFailure, "invoke", err)

	case <-timer.C:
		kill(cmd)
		<-done
		c.logger.Warn("External tool timed out", zap.Duration("timeout", timeout))
		return "", models.Errorf(models.KindTimeout, "invoke", "no response after %s", timeout)

	case <-ctx.Done():
		kill(cmd)
		<-done
		return "", models.NewError(models.KindGenericFailure, "invoke", ctx.Err())
	}
}

func kill(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
