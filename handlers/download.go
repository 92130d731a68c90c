package handlers

import (
	"bufio"
	"errors"
	"fmt"
	"log"

	"media-downloader-go/config"
	"media-downloader-go/models"
	"media-downloader-go/services"
	"media-downloader-go/utils"

	"github.com/gofiber/fiber/v2"
)

// HandleDownload handles GET /download?jobId=... and the legacy
// GET /download?url=...&format_id=... path, which auto-admits a job.
func HandleDownload(c *fiber.Ctx) error {
	jobID := c.Query("jobId")
	legacy := jobID == ""

	if legacy {
		rawURL := c.Query("url")
		formatID := c.Query("format_id")
		if !utils.IsAllowedURL(rawURL) {
			return utils.BadRequest(c, utils.ErrInvalidURL, "Invalid URL format")
		}
		if formatID == "" {
			return utils.BadRequest(c, utils.ErrInvalidRequest, "format_id is required")
		}
		jobID, _ = queue.AddDownloadJob(rawURL, formatID)
	}

	job, ok := queue.GetJob(jobID)
	if !ok {
		return utils.NotFound(c, utils.ErrJobNotFound, "Job not found")
	}
	if job.Kind != models.JobDownload {
		return utils.BadRequest(c, utils.ErrInvalidRequest, "Job is not a download job")
	}

	downloadID := services.NewID()
	if !queue.StartJob(jobID, downloadID) {
		if legacy {
			return c.Status(fiber.StatusAccepted).JSON(models.EnqueueResponse{
				JobID:   jobID,
				Message: "Job queued",
			})
		}
		return utils.Conflict(c, utils.ErrJobNotStartable, "Another job is currently active")
	}

	filename, contentType := downloadMetadata(c, job)

	bus.CreateSession(job.URL, job.FormatID, downloadID)
	stream, err := services.StreamDownload(bus, job.URL, job.FormatID, downloadID, config.DownloadTimeout)
	if err != nil {
		bus.MarkError(downloadID, err.Error())
		queue.FailJob(jobID, err.Error())
		return spawnError(c, err)
	}

	setStreamHeaders(c, contentType, filename, downloadID, jobID)
	pumpStream(c, stream, jobID, downloadID)
	return nil
}

// HandleConvert handles POST /convert
func HandleConvert(c *fiber.Ctx) error {
	var req models.ConvertRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequest(c, utils.ErrInvalidRequest, "Invalid request body")
	}

	jobID := req.JobID
	legacy := jobID == ""

	if legacy {
		if _, ok := config.TranscoderArgs[req.TargetFormat]; !ok {
			return utils.BadRequest(c, utils.ErrUnknownFormat, "Unknown target format")
		}
		if !utils.IsAllowedURL(req.URL) {
			return utils.BadRequest(c, utils.ErrInvalidURL, "Invalid URL format")
		}
		var err error
		jobID, _, err = queue.AddConvertJob(req.URL, req.TargetFormat, "")
		if err != nil {
			return utils.BadRequest(c, utils.ErrInvalidRequest, err.Error())
		}
	}

	job, ok := queue.GetJob(jobID)
	if !ok {
		return utils.NotFound(c, utils.ErrJobNotFound, "Job not found")
	}
	if job.Kind != models.JobConvert {
		return utils.BadRequest(c, utils.ErrInvalidRequest, "Job is not a convert job")
	}

	downloadID := services.NewID()
	if !queue.StartJob(jobID, downloadID) {
		if legacy {
			return c.Status(fiber.StatusAccepted).JSON(models.EnqueueResponse{
				JobID:   jobID,
				Message: "Job queued",
			})
		}
		return utils.Conflict(c, utils.ErrJobNotStartable, "Another job is currently active")
	}

	filename, _ := downloadMetadata(c, job)
	contentType := utils.ContentTypeFromExt(job.TargetFormat)

	bus.CreateSession(job.URL, "", downloadID)
	stream, err := services.StreamConvert(bus, job.URL, job.TargetFormat, downloadID, config.ConversionTimeout)
	if err != nil {
		bus.MarkError(downloadID, err.Error())
		queue.FailJob(jobID, err.Error())
		return spawnError(c, err)
	}

	setStreamHeaders(c, contentType, filename, downloadID, jobID)
	pumpStream(c, stream, jobID, downloadID)
	return nil
}

// downloadMetadata looks up the media title for the filename; a failed
// lookup falls back to a generic name rather than failing the download.
func downloadMetadata(c *fiber.Ctx, job models.Job) (filename, contentType string) {
	title := ""
	ext := job.TargetFormat

	if info, err := services.Analyze(c.Context(), job.URL); err == nil {
		title = info.Title
		if job.Kind == models.JobDownload {
			for _, f := range info.Formats {
				if f.FormatID == job.FormatID {
					ext = f.Ext
					break
				}
			}
		}
	} else {
		log.Printf("[Download] Metadata lookup failed for job %s: %v\n", job.JobID, err)
	}

	if ext == "" {
		ext = "mp4"
	}
	filename = fmt.Sprintf("%s.%s", utils.SanitizeFilename(title), ext)
	return filename, utils.ContentTypeFromExt(ext)
}

// setStreamHeaders prepares the media streaming response
func setStreamHeaders(c *fiber.Ctx, contentType, filename, downloadID, jobID string) {
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Set(fiber.HeaderCacheControl, "no-cache, no-store, must-revalidate")
	c.Set("Pragma", "no-cache")
	c.Set("Expires", "0")
	c.Set("X-Download-Id", downloadID)
	c.Set("X-Job-Id", jobID)
}

// pumpStream pipes the child's stdout to the response body, reporting
// terminal outcomes to the progress bus and the scheduler.
func pumpStream(c *fiber.Ctx, stream *services.Stream, jobID, downloadID string) {
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer stream.Cleanup()

		buf := make([]byte, config.BufferSize)
		for {
			n, readErr := stream.Out.Read(buf)
			if n > 0 {
				if _, writeErr := w.Write(buf[:n]); writeErr != nil {
					// Client disconnected mid-stream
					queue.FailJob(jobID, "Client disconnected")
					bus.Cancel(downloadID)
					return
				}
				if flushErr := w.Flush(); flushErr != nil {
					queue.FailJob(jobID, "Client disconnected")
					bus.Cancel(downloadID)
					return
				}
			}
			if readErr != nil {
				// EOF alone does not prove a clean exit; wait for the
				// children and let the exit code decide.
				if err := stream.Wait(); err != nil {
					bus.MarkError(downloadID, err.Error())
					queue.FailJob(jobID, err.Error())
				} else {
					bus.MarkCompleted(downloadID)
					queue.CompleteJob(jobID)
				}
				return
			}
		}
	})
}

// spawnError maps a failed pipeline spawn onto an HTTP error. Headers have
// not been sent yet on this path, so a JSON body is still possible.
func spawnError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidURL):
		return utils.BadRequest(c, utils.ErrInvalidURL, "Invalid URL format")
	case errors.Is(err, services.ErrUnknownTargetFormat):
		return utils.BadRequest(c, utils.ErrUnknownFormat, "Unknown target format")
	case errors.Is(err, services.ErrExtractorNotFound):
		return utils.InternalError(c, "Extractor is not installed")
	case errors.Is(err, services.ErrTranscoderNotFound):
		return utils.InternalError(c, "Transcoder is not installed")
	default:
		return utils.ErrorWithDetail(c, fiber.StatusBadGateway, utils.ErrExtractFailed,
			"Failed to start media stream", err)
	}
}
