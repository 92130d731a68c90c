package utils

import (
	"log"

	"media-downloader-go/config"

	"github.com/robfig/cron/v3"
)

// StartCleanupScheduler runs the given sweep functions on the GC schedule.
// Sweeps remove terminal jobs and sessions past their retention window;
// active entries are never touched.
func StartCleanupScheduler(sweeps ...func()) *cron.Cron {
	c := cron.New()

	for _, sweep := range sweeps {
		if _, err := c.AddFunc(config.SweepSchedule, sweep); err != nil {
			log.Printf("[Cleanup] Failed to schedule sweep: %v\n", err)
		}
	}

	c.Start()
	log.Println("[Cleanup] Scheduler started")
	return c
}
