package handlers

import (
	"net/http"
	"testing"

	"media-downloader-go/models"
	"media-downloader-go/services"
	"media-downloader-go/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressStatus(t *testing.T) {
	app, b, _ := newTestApp()

	resp := getJSON(t, app, "/progress/unknown/status")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, utils.ErrDownloadNotFound, errorCode(t, resp))

	id := b.CreateSession("https://example.com/v", "22", "dl-1")
	b.SetTotal(id, 1000)
	b.UpdateProgress(id, 400)

	resp = getJSON(t, app, "/progress/"+id+"/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap models.SessionSnapshot
	decodeBody(t, resp, &snap)
	assert.Equal(t, id, snap.DownloadID)
	assert.Equal(t, int64(400), snap.Bytes)
	require.NotNil(t, snap.Percentage)
	assert.Equal(t, 40, *snap.Percentage)
	assert.Equal(t, models.SessionDownloading, snap.Status)
}

func TestCancelDownloadEndpoint(t *testing.T) {
	app, b, q := newTestApp()

	resp := postJSON(t, app, "/download/unknown/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, utils.ErrDownloadNotFound, errorCode(t, resp))

	jobID, _ := q.AddDownloadJob("https://example.com/v", "22")
	require.True(t, q.StartJob(jobID, "dl-1"))
	b.CreateSession("https://example.com/v", "22", "dl-1")

	resp = postJSON(t, app, "/download/dl-1/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ack models.AckResponse
	decodeBody(t, resp, &ack)
	assert.True(t, ack.Success)

	snap := b.GetProgress("dl-1")
	require.NotNil(t, snap)
	assert.Equal(t, models.SessionCancelled, snap.Status)

	job, ok := q.GetJob(jobID)
	require.True(t, ok)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, services.CancelledByUser, job.Error)

	// The active slot frees for the next admission
	next, canStart := q.AddDownloadJob("https://example.com/w", "18")
	assert.True(t, canStart)
	assert.True(t, q.StartJob(next, "dl-2"))
}
