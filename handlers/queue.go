package handlers

import (
	"errors"

	"media-downloader-go/config"
	"media-downloader-go/models"
	"media-downloader-go/services"
	"media-downloader-go/utils"

	"github.com/gofiber/fiber/v2"
)

// HandleQueueDownload handles POST /queue/download
func HandleQueueDownload(c *fiber.Ctx) error {
	var req models.QueueDownloadRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequest(c, utils.ErrInvalidRequest, "Invalid request body")
	}

	if !utils.IsAllowedURL(req.URL) {
		return utils.BadRequest(c, utils.ErrInvalidURL, "Invalid URL format")
	}
	if req.FormatID == "" {
		return utils.BadRequest(c, utils.ErrInvalidRequest, "format_id is required")
	}

	jobID, canStart := queue.AddDownloadJob(req.URL, req.FormatID)
	return c.JSON(models.EnqueueResponse{
		JobID:    jobID,
		CanStart: canStart,
		Message:  enqueueMessage(canStart),
	})
}

// HandleQueueConvert handles POST /queue/convert
func HandleQueueConvert(c *fiber.Ctx) error {
	var req models.QueueConvertRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequest(c, utils.ErrInvalidRequest, "Invalid request body")
	}

	if req.InputFile != "" {
		// Accepted by the original edge but never materialized; reject
		// until a file-based pipeline exists
		return utils.BadRequest(c, utils.ErrInvalidRequest, "input_file is not supported")
	}
	if _, ok := config.TranscoderArgs[req.TargetFormat]; !ok {
		return utils.BadRequest(c, utils.ErrUnknownFormat, "Unknown target format")
	}
	if !utils.IsAllowedURL(req.URL) {
		return utils.BadRequest(c, utils.ErrInvalidURL, "Invalid URL format")
	}

	jobID, canStart, err := queue.AddConvertJob(req.URL, req.TargetFormat, req.DependsOn)
	if err != nil {
		return utils.BadRequest(c, utils.ErrInvalidRequest, err.Error())
	}

	return c.JSON(models.EnqueueResponse{
		JobID:    jobID,
		CanStart: canStart,
		Message:  enqueueMessage(canStart),
	})
}

// HandleQueueState handles GET /queue
func HandleQueueState(c *fiber.Ctx) error {
	return c.JSON(queue.GetQueueState())
}

// HandleGetJob handles GET /queue/:id
func HandleGetJob(c *fiber.Ctx) error {
	job, ok := queue.GetJob(c.Params("id"))
	if !ok {
		return utils.NotFound(c, utils.ErrJobNotFound, "Job not found")
	}
	return c.JSON(job)
}

// HandleCancelJob handles POST /queue/:id/cancel
func HandleCancelJob(c *fiber.Ctx) error {
	if err := queue.CancelJob(c.Params("id")); err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			return utils.NotFound(c, utils.ErrJobNotFound, "Job not found")
		}
		return utils.InternalError(c, "Failed to cancel job")
	}
	return c.JSON(models.AckResponse{Success: true, Message: "Job cancelled"})
}

func enqueueMessage(canStart bool) string {
	if canStart {
		return "Job ready to start"
	}
	return "Job queued"
}
