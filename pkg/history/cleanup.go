package history

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRetention = 7 * 24 * time.Hour
	DefaultSchedule  = "0 3 * * *"
)

// Cleanup prunes oversized transcripts and deletes conversations whose last
// activity is older than the retention window, on a cron schedule.
type Cleanup struct {
	manager   *Manager
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	entryID   cron.EntryID
}

// NewCleanup creates a cleanup job for the given manager. Zero values fall
// back to the defaults.
func NewCleanup(manager *Manager, retention time.Duration, schedule string) *Cleanup {
	if retention == 0 {
		retention = DefaultRetention
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}

	return &Cleanup{
		manager:   manager,
		retention: retention,
		schedule:  schedule,
		cron:      cron.New(),
	}
}

// Start schedules the cleanup job and runs one pass immediately.
func (c *Cleanup) Start() error {
	id, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			log.Error().Err(err).Msg("History cleanup pass failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule history cleanup: %w", err)
	}
	c.entryID = id
	c.cron.Start()

	log.Info().
		Str("schedule", c.schedule).
		Dur("retention", c.retention).
		Msg("History cleanup started")

	if err := c.RunOnce(context.Background()); err != nil {
		log.Error().Err(err).Msg("Initial history cleanup pass failed")
	}

	return nil
}

// Stop cancels the scheduled job and waits for a running pass to finish.
func (c *Cleanup) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("History cleanup stopped")
}

// RunOnce performs a single retention pass over all conversations.
func (c *Cleanup) RunOnce(ctx context.Context) error {
	keys, err := c.manager.List()
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	now := time.Now()
	deleted := 0

	for _, key := range keys {
		lastModified, err := c.manager.LastModified(key)
		if err != nil {
			log.Warn().Str("conversation_key", key).Err(err).Msg("Failed to stat conversation")
			continue
		}

		age := now.Sub(lastModified)
		if age >= c.retention {
			if err := c.manager.Delete(ctx, key); err != nil {
				log.Error().Str("conversation_key", key).Err(err).Msg("Failed to delete conversation")
				continue
			}
			deleted++
			log.Debug().Str("conversation_key", key).Dur("age", age).Msg("Expired conversation deleted")
			continue
		}

		if err := c.manager.Compact(ctx, key); err != nil {
			log.Warn().Str("conversation_key", key).Err(err).Msg("Failed to compact conversation")
		}
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("Cleaned up expired conversations")
	}

	return nil
}
