package handlers

import "media-downloader-go/services"

// Package-wide collaborators, wired once at startup
var (
	bus   *services.ProgressBus
	queue *services.JobQueue
)

// Init wires the handlers to the progress bus and scheduler
func Init(b *services.ProgressBus, q *services.JobQueue) {
	bus = b
	queue = q
}
