package services

import (
	"bytes"
	"io"
	"testing"

	"media-downloader-go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want int64
		ok   bool
	}{
		{"mib", "[download]  23.4% of 10MiB at 1.2MiB/s ETA 00:05", 10 << 20, true},
		{"kib fraction", "[download]   1.0% of 512.5KiB", 524800, true},
		{"gib", "[download]  99.9% of 1.5GiB at 4MiB/s", 1610612736, true},
		{"approximate total", "[download]   5.0% of ~ 8.5MiB", 8912896, true},
		{"uppercase tag", "[DOWNLOAD]  50.0% of 10MiB", 10 << 20, true},
		{"space before unit", "[download]  50.0% of 10 MiB", 10 << 20, true},
		{"zero total", "[download]   0.0% of 0KiB", 0, false},
		{"destination line", "[download] Destination: clip.mp4", 0, false},
		{"warning line", "WARNING: unable to extract channel id", 0, false},
		{"plain line", "some unrelated output", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseProgressLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestCountingReaderChunkedReporting(t *testing.T) {
	bus := NewProgressBus()
	id := bus.CreateSession("https://example.com/v", "22", "dl-1")
	ch, unsubscribe := bus.Subscribe(id)
	defer unsubscribe()

	payload := bytes.Repeat([]byte{0xAB}, 130*1024)
	cr := &countingReader{r: bytes.NewReader(payload), bus: bus, downloadID: id}

	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, err := cr.Read(buf)
		total += int64(n)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, int64(len(payload)), total)

	// Reports land on every 64 KiB boundary plus a final flush at EOF
	var reported []int64
	for done := false; !done; {
		select {
		case ev := <-ch:
			reported = append(reported, ev.Bytes)
		default:
			done = true
		}
	}
	assert.Equal(t, []int64{64 * 1024, 128 * 1024, 130 * 1024}, reported)

	snap := bus.GetProgress(id)
	require.NotNil(t, snap)
	assert.Equal(t, int64(len(payload)), snap.Bytes)
}

func TestCountingReaderFlushOnError(t *testing.T) {
	bus := NewProgressBus()
	id := bus.CreateSession("https://example.com/v", "22", "dl-2")

	// A short payload never crosses the reporting threshold; the flush on
	// EOF must still surface the transferred bytes.
	payload := []byte("tiny")
	cr := &countingReader{r: bytes.NewReader(payload), bus: bus, downloadID: id}

	out, err := io.ReadAll(cr)
	require.NoError(t, err)
	assert.Equal(t, payload, out)

	snap := bus.GetProgress(id)
	require.NotNil(t, snap)
	assert.Equal(t, int64(len(payload)), snap.Bytes)
	assert.Equal(t, models.SessionDownloading, snap.Status)
}
