package handlers

import (
	"errors"
	"fmt"
	"log"

	"media-downloader-go/config"
	"media-downloader-go/models"
	"media-downloader-go/services"
	"media-downloader-go/utils"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"
)

// batchParallelism bounds concurrent extractor processes for one batch
const batchParallelism = 5

// HandleAnalyze handles POST /analyze
func HandleAnalyze(c *fiber.Ctx) error {
	var req models.AnalyzeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequest(c, utils.ErrInvalidRequest, "Invalid request body")
	}

	if !utils.IsAllowedURL(req.URL) {
		return utils.BadRequest(c, utils.ErrInvalidURL, "Invalid URL format")
	}

	info, err := services.Analyze(c.Context(), req.URL)
	if err != nil {
		log.Printf("[Analyze] %v\n", err)
		return analyzeError(c, err)
	}

	return c.JSON(info)
}

// HandleAnalyzeBatch handles POST /analyze/batch. Valid URLs are analyzed
// in parallel; per-URL failures never fail the batch.
func HandleAnalyzeBatch(c *fiber.Ctx) error {
	var req models.BatchAnalyzeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequest(c, utils.ErrInvalidRequest, "Invalid request body")
	}

	if len(req.URLs) == 0 {
		return utils.BadRequest(c, utils.ErrInvalidRequest, "No URLs provided")
	}
	if len(req.URLs) > config.MaxBatchSize {
		return utils.BadRequest(c, utils.ErrInvalidRequest,
			fmt.Sprintf("Too many URLs (max %d)", config.MaxBatchSize))
	}

	results := make([]models.BatchResult, len(req.URLs))

	g, ctx := errgroup.WithContext(c.Context())
	g.SetLimit(batchParallelism)

	for i, rawURL := range req.URLs {
		i, rawURL := i, rawURL
		if !utils.IsAllowedURL(rawURL) {
			results[i] = models.BatchResult{URL: rawURL, Error: "Invalid URL format"}
			continue
		}

		g.Go(func() error {
			info, err := services.Analyze(ctx, rawURL)
			if err != nil {
				results[i] = models.BatchResult{URL: rawURL, Error: err.Error()}
				return nil
			}
			results[i] = models.BatchResult{URL: rawURL, Success: true, Info: info}
			return nil
		})
	}
	_ = g.Wait()

	response := models.BatchAnalyzeResponse{
		Results: results,
		Total:   len(results),
	}
	for _, r := range results {
		if r.Success {
			response.Successful++
		} else {
			response.Failed++
		}
	}

	return c.JSON(response)
}

// analyzeError maps extraction errors onto HTTP statuses
func analyzeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidURL):
		return utils.BadRequest(c, utils.ErrInvalidURL, "Invalid URL format")
	case errors.Is(err, services.ErrUnsupported):
		return utils.BadRequest(c, utils.ErrExtractFailed, "Unsupported URL")
	case errors.Is(err, services.ErrUnavailable):
		return utils.NotFound(c, utils.ErrExtractFailed, "Media is private or unavailable")
	case errors.Is(err, services.ErrTimeout):
		return utils.GatewayTimeout(c, utils.ErrExtractFailed, "Extraction timed out")
	case errors.Is(err, services.ErrExtractorNotFound):
		return utils.InternalError(c, "Extractor is not installed")
	default:
		return utils.ErrorWithDetail(c, fiber.StatusBadGateway, utils.ErrExtractFailed,
			"Failed to analyze URL", err)
	}
}
