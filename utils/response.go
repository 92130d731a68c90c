package utils

import (
	"media-downloader-go/config"

	"github.com/gofiber/fiber/v2"
)

// Error codes
const (
	ErrInvalidRequest   = "INVALID_REQUEST"
	ErrInvalidURL       = "INVALID_URL"
	ErrUnknownFormat    = "UNKNOWN_FORMAT"
	ErrJobNotFound      = "JOB_NOT_FOUND"
	ErrDownloadNotFound = "DOWNLOAD_NOT_FOUND"
	ErrJobNotStartable  = "JOB_NOT_STARTABLE"
	ErrExtractFailed    = "EXTRACT_FAILED"
	ErrConvertFailed    = "CONVERT_FAILED"
	ErrProxyFailed      = "PROXY_FAILED"
	ErrInternalError    = "INTERNAL_ERROR"
)

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Error returns a JSON error response
func Error(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// ErrorWithDetail includes the underlying cause in development mode only
func ErrorWithDetail(c *fiber.Ctx, status int, code, message string, cause error) error {
	detail := ""
	if cause != nil && !config.IsProduction() {
		detail = cause.Error()
	}
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Detail:  detail,
		},
	})
}

// BadRequest returns 400 error
func BadRequest(c *fiber.Ctx, code, message string) error {
	return Error(c, fiber.StatusBadRequest, code, message)
}

// NotFound returns 404 error
func NotFound(c *fiber.Ctx, code, message string) error {
	return Error(c, fiber.StatusNotFound, code, message)
}

// Conflict returns 409 error
func Conflict(c *fiber.Ctx, code, message string) error {
	return Error(c, fiber.StatusConflict, code, message)
}

// BadGateway returns 502 error
func BadGateway(c *fiber.Ctx, code, message string) error {
	return Error(c, fiber.StatusBadGateway, code, message)
}

// GatewayTimeout returns 504 error
func GatewayTimeout(c *fiber.Ctx, code, message string) error {
	return Error(c, fiber.StatusGatewayTimeout, code, message)
}

// InternalError returns 500 error
func InternalError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, ErrInternalError, message)
}
