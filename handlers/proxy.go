package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"media-downloader-go/config"
	"media-downloader-go/utils"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/net/proxy"
)

// imageClient reuses connections across proxy requests; when OUTBOUND_PROXY
// is set, requests dial through the SOCKS5 proxy.
var imageClient *http.Client

func init() {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	if config.OutboundProxy != "" {
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer, err := proxy.SOCKS5("tcp", config.OutboundProxy, nil, proxy.Direct)
			if err != nil {
				return nil, err
			}
			return dialer.Dial(network, addr)
		}
	}

	imageClient = &http.Client{
		Transport: transport,
		Timeout:   config.ImageProxyTimeout,
	}
}

// HandleImageProxy handles GET /proxy/image?url=...
func HandleImageProxy(c *fiber.Ctx) error {
	rawURL := c.Query("url")
	if !utils.IsAllowedURL(rawURL) {
		return utils.BadRequest(c, utils.ErrInvalidURL, "Invalid URL format")
	}

	req, err := http.NewRequestWithContext(c.Context(), http.MethodGet, rawURL, nil)
	if err != nil {
		return utils.BadRequest(c, utils.ErrInvalidURL, "Invalid URL format")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := imageClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return utils.GatewayTimeout(c, utils.ErrProxyFailed, "Image fetch timed out")
		}
		log.Printf("[ImageProxy] Fetch failed: %v\n", err)
		return utils.BadGateway(c, utils.ErrProxyFailed, "Failed to fetch image")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return utils.BadGateway(c, utils.ErrProxyFailed,
			fmt.Sprintf("Upstream returned status %d", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		resp.Body.Close()
		return utils.BadRequest(c, utils.ErrProxyFailed, "URL does not point to an image")
	}

	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderCacheControl, fmt.Sprintf("public, max-age=%d", config.ImageProxyCacheAge))

	// The body is handed to the response writer, which closes it after the
	// stream drains.
	return c.SendStream(resp.Body, int(resp.ContentLength))
}
