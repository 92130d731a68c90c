package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"media-downloader-go/models"
	"media-downloader-go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeValidation(t *testing.T) {
	app, _, _ := newTestApp()

	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader("not json"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, utils.ErrInvalidRequest, errorCode(t, resp))

	for _, url := range []string{
		"",
		"not-a-url",
		"ftp://example.com/v",
		"http://192.168.0.1/v",
	} {
		resp := postJSON(t, app, "/analyze", models.AnalyzeRequest{URL: url})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "url %q", url)
		assert.Equal(t, utils.ErrInvalidURL, errorCode(t, resp), "url %q", url)
	}
}

func TestAnalyzeBatchValidation(t *testing.T) {
	app, _, _ := newTestApp()

	resp := postJSON(t, app, "/analyze/batch", models.BatchAnalyzeRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, utils.ErrInvalidRequest, errorCode(t, resp))

	urls := make([]string, 21)
	for i := range urls {
		urls[i] = "https://example.com/v"
	}
	resp = postJSON(t, app, "/analyze/batch", models.BatchAnalyzeRequest{URLs: urls})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, utils.ErrInvalidRequest, errorCode(t, resp))
}

func TestAnalyzeBatchRejectedURLs(t *testing.T) {
	app, _, _ := newTestApp()

	resp := postJSON(t, app, "/analyze/batch", models.BatchAnalyzeRequest{
		URLs: []string{"http://localhost/a", "file:///etc/passwd", "nope"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body models.BatchAnalyzeResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, 0, body.Successful)
	assert.Equal(t, 3, body.Failed)

	require.Len(t, body.Results, 3)
	assert.Equal(t, "http://localhost/a", body.Results[0].URL)
	for _, r := range body.Results {
		assert.False(t, r.Success)
		assert.Equal(t, "Invalid URL format", r.Error)
		assert.Nil(t, r.Info)
	}
}
