package config

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"obituaries/internal/bootstrap/logging"
	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/errs"
)

// WatchPolicyFile reloads the policy file on every change and hands the
// result to apply until ctx is done. The directory is watched because
// editors often replace the file instead of writing it. A file that fails
// to load is logged and the previous policy stays in effect.
func WatchPolicyFile(ctx context.Context, cfg VerificationConfig, apply func(domainobituary.Policy) error) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	path := strings.TrimSpace(cfg.PolicyFile)
	if path == "" {
		return errors.New("verification.policy_file is required to watch the policy")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return errs.Wrapf(err, "resolve policy file %q", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(err, "create policy watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return errs.Wrapf(err, "watch %q", filepath.Dir(abs))
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "config.policy_watcher"), slog.String("path", abs))
	logging.Info(logCtx, "watching policy file")

	base := domainobituary.Policy{
		ApproveThreshold: cfg.ApproveThreshold,
		RejectThreshold:  cfg.RejectThreshold,
		Quorum:           cfg.Quorum,
		ApproveRatio:     cfg.ApproveRatio,
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			policy, err := LoadPolicyFile(abs, base)
			if err != nil {
				logging.Warn(logCtx, "policy reload failed, keeping previous policy", slog.Any("err", errs.Loggable(err)))
				continue
			}
			if err := apply(policy); err != nil {
				logging.Warn(logCtx, "policy rejected", slog.Any("err", errs.Loggable(err)))
				continue
			}
			logging.Info(logCtx, "policy reloaded",
				slog.Int("approve_threshold", policy.ApproveThreshold),
				slog.Int("reject_threshold", policy.RejectThreshold),
				slog.Int("quorum", policy.Quorum),
				slog.Int("approve_ratio", policy.ApproveRatio),
			)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn(logCtx, "policy watcher error", slog.Any("err", errs.Loggable(err)))
		}
	}
}
