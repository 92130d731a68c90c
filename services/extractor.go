package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"

	"media-downloader-go/config"
	"media-downloader-go/models"
	"media-downloader-go/utils"
)

// Extraction error kinds, mapped to HTTP statuses by the handlers
var (
	ErrInvalidURL        = errors.New("invalid URL")
	ErrExtractorNotFound = errors.New("extractor executable not found")
	ErrUnsupported       = errors.New("unsupported URL")
	ErrUnavailable       = errors.New("media unavailable")
	ErrTimeout           = errors.New("extraction timed out")
)

// rawInfo mirrors the extractor's --dump-json output (only the fields we use)
type rawInfo struct {
	Title     string      `json:"title"`
	Thumbnail string      `json:"thumbnail"`
	Duration  float64     `json:"duration"`
	Formats   []rawFormat `json:"formats"`
}

type rawFormat struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Protocol       string  `json:"protocol"`
	Vcodec         string  `json:"vcodec"`
	Acodec         string  `json:"acodec"`
	Resolution     string  `json:"resolution"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	FPS            float64 `json:"fps"`
}

var (
	exactResolution  = regexp.MustCompile(`^\d+x\d+$`)
	shortResolution  = regexp.MustCompile(`^\d+p$`)
	numericPrefixRe  = regexp.MustCompile(`^\d+`)
	manifestProtocol = regexp.MustCompile(`m3u8|http_dash_segments`)
)

// Analyze invokes the extractor in JSON-dump mode and normalizes the result
// into the public format model.
func Analyze(ctx context.Context, rawURL string) (*models.MediaInfo, error) {
	if !utils.IsAllowedURL(rawURL) {
		return nil, ErrInvalidURL
	}

	ctx, cancel := context.WithTimeout(ctx, config.AnalyzeTimeout)
	defer cancel()

	args := append([]string{"--dump-json"}, config.ExtractorBaseArgs...)
	args = append(args, rawURL)
	cmd := exec.CommandContext(ctx, config.ExtractorPath, args...)

	stdout := &cappedBuffer{cap: config.AnalyzeBufferCap}
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, classifyExtractionError(ctx, err, stderr.String())
	}

	var raw rawInfo
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("extraction failed: unreadable metadata: %w", err)
	}

	return normalizeInfo(&raw), nil
}

// classifyExtractionError maps a failed extractor run onto the error taxonomy
func classifyExtractionError(ctx context.Context, err error, stderr string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return ErrTimeout
	}
	if errors.Is(err, exec.ErrNotFound) {
		return ErrExtractorNotFound
	}

	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "unsupported url"), strings.Contains(lower, "http error 4"):
		return fmt.Errorf("%w: %s", ErrUnsupported, firstLine(stderr))
	case strings.Contains(lower, "private"), strings.Contains(lower, "unavailable"):
		return fmt.Errorf("%w: %s", ErrUnavailable, firstLine(stderr))
	}

	if line := firstLine(stderr); line != "" {
		return fmt.Errorf("extraction failed: %s", line)
	}
	return fmt.Errorf("extraction failed: %w", err)
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// normalizeInfo converts raw extractor metadata into MediaInfo
func normalizeInfo(raw *rawInfo) *models.MediaInfo {
	return &models.MediaInfo{
		Title:     raw.Title,
		Thumbnail: raw.Thumbnail,
		Duration:  formatDuration(raw.Duration),
		Formats:   normalizeFormats(raw.Formats),
	}
}

func normalizeFormats(raw []rawFormat) []models.FormatDescriptor {
	type dedupKey struct {
		kind, ext, resolution string
	}

	seen := make(map[dedupKey]int)
	var formats []models.FormatDescriptor
	var sized []bool

	for _, f := range raw {
		if f.FormatID == "" || f.Ext == "" {
			continue
		}
		if manifestProtocol.MatchString(f.Protocol) || f.Ext == "mhtml" {
			continue
		}

		hasVideo := f.Vcodec != "" && f.Vcodec != "none"
		hasAudio := f.Acodec != "" && f.Acodec != "none"
		if !hasVideo && !hasAudio {
			continue
		}

		kind := models.KindAudio
		if hasVideo {
			kind = models.KindVideo
		}

		resolution := normalizeResolution(&f, kind)
		if kind == models.KindVideo && resolution == "unknown" {
			// No dimension hint at all; not worth offering
			continue
		}

		desc := models.FormatDescriptor{
			FormatID:   f.FormatID,
			Ext:        canonicalExt(f.Ext),
			Resolution: resolution,
			Filesize:   formatFilesize(f.Filesize, f.FilesizeApprox),
			Kind:       kind,
		}
		hasSize := f.Filesize > 0 || f.FilesizeApprox > 0

		key := dedupKey{desc.Kind, desc.Ext, desc.Resolution}
		if idx, ok := seen[key]; ok {
			// Collapse duplicates, preferring the entry with a known size
			if hasSize && !sized[idx] {
				formats[idx] = desc
				sized[idx] = true
			}
			continue
		}
		seen[key] = len(formats)
		formats = append(formats, desc)
		sized = append(sized, hasSize)
	}

	sortFormats(formats)
	return formats
}

func canonicalExt(ext string) string {
	if canonical, ok := config.CanonicalExt[ext]; ok {
		return canonical
	}
	return ext
}

func normalizeResolution(f *rawFormat, kind string) string {
	if kind == models.KindAudio {
		return "audio"
	}
	if exactResolution.MatchString(f.Resolution) || shortResolution.MatchString(f.Resolution) {
		return f.Resolution
	}
	if f.Width > 0 && f.Height > 0 {
		return fmt.Sprintf("%dx%d", f.Width, f.Height)
	}
	if f.Height > 0 {
		return fmt.Sprintf("%dp", f.Height)
	}
	return "unknown"
}

// formatFilesize renders a byte count for the format list; approximate
// sizes carry a "~" prefix
func formatFilesize(exact, approx int64) string {
	if exact > 0 {
		return formatBytes(exact, "%.2f")
	}
	if approx > 0 {
		return "~" + formatBytes(approx, "%.1f")
	}
	return "unknown"
}

func formatBytes(n int64, verb string) string {
	const unit = 1024
	units := []string{"KB", "MB", "GB", "TB"}

	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	value := float64(n)
	name := ""
	for _, u := range units {
		value /= unit
		name = u
		if value < unit {
			break
		}
	}
	return fmt.Sprintf(verb+" %s", value, name)
}

// sortFormats orders video before audio; within each kind, descending by
// numeric resolution
func sortFormats(formats []models.FormatDescriptor) {
	sort.SliceStable(formats, func(i, j int) bool {
		if formats[i].Kind != formats[j].Kind {
			return formats[i].Kind == models.KindVideo
		}
		return resolutionRank(formats[i].Resolution) > resolutionRank(formats[j].Resolution)
	})
}

// resolutionRank extracts a comparable height from "WxH" or "Np"
func resolutionRank(resolution string) int {
	if exactResolution.MatchString(resolution) {
		parts := strings.SplitN(resolution, "x", 2)
		return atoiSafe(parts[1])
	}
	if m := numericPrefixRe.FindString(resolution); m != "" {
		return atoiSafe(m)
	}
	return 0
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// formatDuration renders seconds as H:MM:SS or M:SS
func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "unknown"
	}

	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// cappedBuffer rejects writes past its capacity so a runaway extractor
// cannot exhaust memory
type cappedBuffer struct {
	buf bytes.Buffer
	cap int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.buf.Len()+len(p) > b.cap {
		return 0, fmt.Errorf("extractor output exceeded %d bytes", b.cap)
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}
