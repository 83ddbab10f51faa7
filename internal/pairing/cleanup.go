package pairing

import (
	"context"
	"log/slog"
	"time"

	"github.com/nightgate/resourcegate/internal/domain"
)

// cleanupInterval is how often the cleanup loop sweeps expired pairing
// records (spec.md §4.3: "Periodically").
const cleanupInterval = 5 * time.Minute

// Cleaner periodically removes expired ConnectCodes and expires stale
// PENDING InstallSessions, grounded on the ticker-driven Run loop in
// pkg/escalation/engine.go.
type Cleaner struct {
	connectCodes    ConnectCodeRepo
	installSessions InstallSessionRepo
	apps            AppRepo
	logger          *slog.Logger
	interval        time.Duration
}

func NewCleaner(connectCodes ConnectCodeRepo, installSessions InstallSessionRepo, apps AppRepo, logger *slog.Logger) *Cleaner {
	return &Cleaner{
		connectCodes:    connectCodes,
		installSessions: installSessions,
		apps:            apps,
		logger:          logger,
		interval:        cleanupInterval,
	}
}

// Run blocks sweeping expired pairing records until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) error {
	c.logger.Info("pairing cleanup loop started", "interval", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("pairing cleanup loop stopped")
			return nil
		case <-ticker.C:
			if err := c.tick(ctx); err != nil {
				c.logger.Error("pairing cleanup tick", "error", err)
			}
		}
	}
}

func (c *Cleaner) tick(ctx context.Context) error {
	now := time.Now()

	deletedCodes, err := c.connectCodes.DeleteExpired(ctx, now)
	if err != nil {
		return err
	}
	if deletedCodes > 0 {
		c.logger.Debug("deleted expired connect codes", "count", deletedCodes)
	}

	orphanedAppIDs, err := c.installSessions.ExpireStale(ctx, now)
	if err != nil {
		return err
	}
	for _, appID := range orphanedAppIDs {
		if err := c.apps.UpdateStatus(ctx, appID, domain.AppDisabled); err != nil {
			c.logger.Error("disabling app orphaned by expired install session", "app_id", appID, "error", err)
		}
	}
	if len(orphanedAppIDs) > 0 {
		c.logger.Debug("expired stale install sessions", "count", len(orphanedAppIDs))
	}

	return nil
}
