package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"media-downloader-go/config"
	"media-downloader-go/models"
	"media-downloader-go/services"
	"media-downloader-go/utils"

	"github.com/gofiber/fiber/v2"
)

// HandleProgress handles GET /progress/:id, a server-sent event stream of
// progress updates for one download session.
func HandleProgress(c *fiber.Ctx) error {
	downloadID := c.Params("id")
	if downloadID == "" {
		return utils.BadRequest(c, utils.ErrInvalidRequest, "Download id is required")
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	// Intermediaries must not buffer the push stream
	c.Set("X-Accel-Buffering", "no")

	events, unsubscribe := bus.Subscribe(downloadID)
	snapshot := bus.GetProgress(downloadID)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		connected := struct {
			Type       string `json:"type"`
			DownloadID string `json:"downloadId"`
		}{"connected", downloadID}
		if writeEvent(w, connected) != nil {
			return
		}

		if snapshot != nil {
			if writeEvent(w, progressEvent(snapshot)) != nil {
				return
			}
		}

		heartbeat := time.NewTicker(config.HeartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if writeEvent(w, event) != nil {
					return
				}
			case <-heartbeat.C:
				beat := struct {
					Type string `json:"type"`
				}{"heartbeat"}
				if writeEvent(w, beat) != nil {
					return
				}
			}
		}
	})
	return nil
}

// HandleProgressStatus handles GET /progress/:id/status
func HandleProgressStatus(c *fiber.Ctx) error {
	snapshot := bus.GetProgress(c.Params("id"))
	if snapshot == nil {
		return utils.NotFound(c, utils.ErrDownloadNotFound, "Download not found")
	}
	return c.JSON(snapshot)
}

// HandleCancelDownload handles POST /download/:id/cancel
func HandleCancelDownload(c *fiber.Ctx) error {
	downloadID := c.Params("id")
	if !bus.Cancel(downloadID) {
		return utils.NotFound(c, utils.ErrDownloadNotFound, "Download not found")
	}

	// Fail the owning job too, if the session belongs to one
	if job, ok := jobForDownload(downloadID); ok {
		queue.FailJob(job.JobID, services.CancelledByUser)
	}

	return c.JSON(models.AckResponse{Success: true, Message: "Download cancelled"})
}

func jobForDownload(downloadID string) (models.Job, bool) {
	for _, job := range queue.GetQueueState().Jobs {
		if job.DownloadID == downloadID {
			return job, true
		}
	}
	return models.Job{}, false
}

// writeEvent emits one SSE message; a failed flush means the client is gone
func writeEvent(w *bufio.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

// progressEvent converts a session snapshot into the wire event
func progressEvent(s *models.SessionSnapshot) models.ProgressEvent {
	return models.ProgressEvent{
		Type:       "progress",
		DownloadID: s.DownloadID,
		Bytes:      s.Bytes,
		Total:      s.Total,
		Percentage: s.Percentage,
		Status:     s.Status,
		Error:      s.Error,
	}
}
