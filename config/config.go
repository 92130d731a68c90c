package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload" // Auto-load .env file
)

const (
	// Analyze
	AnalyzeTimeout   = 30 * time.Second
	AnalyzeBufferCap = 10 << 20 // 10MB stdout cap for --dump-json

	// Streaming
	BufferSize        = 64 * 1024 // 64KB - optimal for the response pump
	ProgressChunkSize = 64 * 1024 // report to the progress bus at least this often
	KillGracePeriod   = 2 * time.Second

	// Image proxy
	ImageProxyTimeout  = 10 * time.Second
	ImageProxyCacheAge = 3600 // seconds

	// GC
	SweepSchedule      = "*/5 * * * *" // Every 5 minutes
	MaxTerminalAge     = 30 * time.Minute
	SessionRemoveGrace = 5 * time.Second

	// Progress push stream
	HeartbeatInterval = 30 * time.Second

	// IDs
	IDLength = 21

	// Limits
	MaxURLLength = 2048
	MaxBatchSize = 20
)

// Server settings (env-overridable)
var (
	Port           = getEnvInt("PORT", 3001)
	ExtractorPath  = getEnv("EXTRACTOR_PATH", "yt-dlp")
	TranscoderPath = getEnv("TRANSCODER_PATH", "ffmpeg")
	Mode           = getEnv("MODE", "development")
	AllowedOrigins = splitList(os.Getenv("ALLOWED_ORIGINS"))

	// Optional SOCKS5 proxy for outbound HTTP (image proxy only)
	OutboundProxy = os.Getenv("OUTBOUND_PROXY")

	DownloadTimeout   = getEnvMillis("DOWNLOAD_TIMEOUT_MS", 10*time.Minute)
	ConversionTimeout = getEnvMillis("CONVERSION_TIMEOUT_MS", 15*time.Minute)
)

// Rate limits (requests per window)
var (
	GlobalRateLimitMax      = getEnvInt("RATE_LIMIT_MAX", 100)
	AnalyzeRateLimitMax     = getEnvInt("ANALYZE_RATE_LIMIT_MAX", 30)
	DownloadRateLimitMax    = getEnvInt("DOWNLOAD_RATE_LIMIT_MAX", 10)
	ConvertRateLimitMax     = getEnvInt("CONVERT_RATE_LIMIT_MAX", 5)
	QueueStatusRateLimitMax = getEnvInt("QUEUE_STATUS_RATE_LIMIT_MAX", 300)
)

// Origins always admitted in development mode
var DevOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
}

// IsProduction reports whether the server runs in production mode
func IsProduction() bool {
	return Mode == "production"
}

// Extractor flags shared by analyze and stream invocations
var ExtractorBaseArgs = []string{"--no-playlist", "--no-warnings", "--no-call-home"}

// Transcoder argument sets per target format (stdin -> stdout)
var TranscoderArgs = map[string][]string{
	"mp3":  {"-vn", "-acodec", "libmp3lame", "-ab", "192k", "-ar", "44100", "-f", "mp3"},
	"aac":  {"-vn", "-acodec", "aac", "-ab", "192k", "-ar", "44100", "-f", "adts"},
	"mp4":  {"-c", "copy", "-f", "mp4", "-movflags", "frag_keyframe+empty_moov"},
	"webm": {"-c", "copy", "-f", "webm"},
}

// Container extension canonicalization for the public format model
var CanonicalExt = map[string]string{
	"m4a":   "mp4",
	"m4v":   "mp4",
	"webma": "webm",
	"webmv": "webm",
	"ogg":   "opus",
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
