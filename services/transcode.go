package services

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"media-downloader-go/config"
	"media-downloader-go/utils"
)

// ErrUnknownTargetFormat rejects convert requests for formats without a
// transcoder argument set
var ErrUnknownTargetFormat = errors.New("unknown target format")

// ErrTranscoderNotFound reports a missing transcoder executable
var ErrTranscoderNotFound = errors.New("transcoder executable not found")

// StreamConvert spawns the extractor with the best format piped into the
// transcoder; the returned stream yields the transcoder's stdout.
func StreamConvert(bus *ProgressBus, rawURL, targetFormat, downloadID string, timeout time.Duration) (*Stream, error) {
	if !utils.IsAllowedURL(rawURL) {
		return nil, ErrInvalidURL
	}

	targetArgs, ok := config.TranscoderArgs[targetFormat]
	if !ok {
		return nil, ErrUnknownTargetFormat
	}

	exArgs := []string{"-f", "best"}
	exArgs = append(exArgs, config.ExtractorBaseArgs...)
	exArgs = append(exArgs, "-o", "-", rawURL)
	extractor := exec.Command(config.ExtractorPath, exArgs...)

	tcArgs := append([]string{"-i", "pipe:0"}, targetArgs...)
	tcArgs = append(tcArgs, "pipe:1")
	transcoder := exec.Command(config.TranscoderPath, tcArgs...)

	// extractor stdout -> transcoder stdin. The parent closes its write
	// end right after spawn so the transcoder sees EOF when the extractor
	// exits; otherwise it would hang waiting for more input.
	midR, midW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("pipeline pipe: %w", err)
	}
	extractor.Stdout = midW
	transcoder.Stdin = midR

	outR, outW, err := os.Pipe()
	if err != nil {
		midR.Close()
		midW.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	transcoder.Stdout = outW

	exStderr, err := extractor.StderrPipe()
	if err != nil {
		closeAll(midR, midW, outR, outW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	tcStderr, err := transcoder.StderrPipe()
	if err != nil {
		closeAll(midR, midW, outR, outW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := extractor.Start(); err != nil {
		closeAll(midR, midW, outR, outW)
		if errors.Is(err, exec.ErrNotFound) {
			return nil, ErrExtractorNotFound
		}
		return nil, fmt.Errorf("failed to spawn extractor: %w", err)
	}
	if err := transcoder.Start(); err != nil {
		terminate(extractor)
		closeAll(midR, midW, outR, outW)
		if errors.Is(err, exec.ErrNotFound) {
			return nil, ErrTranscoderNotFound
		}
		return nil, fmt.Errorf("failed to spawn transcoder: %w", err)
	}
	midW.Close()
	midR.Close()
	outW.Close()

	s := &Stream{
		bus:        bus,
		downloadID: downloadID,
		primary:    extractor,
		secondary:  transcoder,
		pipes:      []io.Closer{outR},
		done:       make(chan struct{}),
	}
	s.Out = &countingReader{r: outR, bus: bus, downloadID: downloadID}
	s.arm(timeout)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.scanExtractorStderr(exStderr)
	}()

	tail := &stderrTail{}
	go func() {
		defer s.wg.Done()
		tail.consume(tcStderr)
	}()

	go func() {
		s.wg.Wait()

		exErr := extractor.Wait()
		tcErr := transcoder.Wait()

		switch {
		case !acceptableTranscoderExit(tcErr):
			s.finish(fmt.Errorf("conversion failed: %s", tail.message(tcErr)))
		case exErr != nil:
			s.finish(fmt.Errorf("extraction failed: %v", exErr))
		default:
			s.finish(nil)
		}
	}()

	bus.RegisterCleanup(downloadID, s.Cleanup)
	return s, nil
}

// acceptableTranscoderExit treats exit code 255 as success; the transcoder
// reports it for the pipe:1 invocation even after writing a full stream.
func acceptableTranscoderExit(err error) bool {
	if err == nil {
		return true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 255 {
		return true
	}
	return false
}

func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}

// stderrTail keeps the last non-empty transcoder stderr line for error
// reporting
type stderrTail struct {
	last string
}

func (t *stderrTail) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			t.last = line
		}
	}
}

func (t *stderrTail) message(err error) string {
	if t.last != "" {
		log.Printf("[Transcoder] %s\n", t.last)
		return t.last
	}
	if err != nil {
		return err.Error()
	}
	return "unknown transcoder error"
}
