package services

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"media-downloader-go/config"
	"media-downloader-go/utils"
)

// Extractor progress line, e.g. "[download]  23.4% of 5.43MiB at 1.2MiB/s"
var progressLinePattern = regexp.MustCompile(`(?i)\[download\]\s+([\d.]+)%\s+of\s+~?\s*([\d.]+)\s*([KMG])iB`)

var progressUnitMultiplier = map[string]int64{
	"K": 1 << 10,
	"M": 1 << 20,
	"G": 1 << 30,
}

// Stream is a running extraction pipeline. Out yields the media bytes;
// Wait blocks until the children exit; Cleanup is idempotent and terminates
// everything.
type Stream struct {
	Out io.Reader

	bus        *ProgressBus
	downloadID string

	primary   *exec.Cmd // extractor
	secondary *exec.Cmd // transcoder, convert mode only
	pipes     []io.Closer
	timer     *time.Timer

	once sync.Once
	done chan struct{}
	err  error
	wg   sync.WaitGroup
}

// StreamDownload spawns the extractor writing the selected format to stdout
// and wires its output through the progress bus.
func StreamDownload(bus *ProgressBus, rawURL, formatID, downloadID string, timeout time.Duration) (*Stream, error) {
	if !utils.IsAllowedURL(rawURL) {
		return nil, ErrInvalidURL
	}

	args := []string{"-f", formatID}
	args = append(args, config.ExtractorBaseArgs...)
	args = append(args, "--prefer-free-formats", "-o", "-", rawURL)
	cmd := exec.Command(config.ExtractorPath, args...)

	// An explicit pipe keeps the read side alive across cmd.Wait, which
	// would close a StdoutPipe while the response pump still drains it.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = outW

	stderr, err := cmd.StderrPipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		if errors.Is(err, exec.ErrNotFound) {
			return nil, ErrExtractorNotFound
		}
		return nil, fmt.Errorf("failed to spawn extractor: %w", err)
	}
	outW.Close() // child holds its own copy

	s := &Stream{
		bus:        bus,
		downloadID: downloadID,
		primary:    cmd,
		pipes:      []io.Closer{outR},
		done:       make(chan struct{}),
	}
	s.Out = &countingReader{r: outR, bus: bus, downloadID: downloadID}
	s.arm(timeout)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scanExtractorStderr(stderr)
	}()

	go func() {
		s.wg.Wait()
		err := cmd.Wait()
		s.finish(err)
	}()

	bus.RegisterCleanup(downloadID, s.Cleanup)
	return s, nil
}

// arm starts the watchdog that terminates the pipeline on timeout
func (s *Stream) arm(timeout time.Duration) {
	s.timer = time.AfterFunc(timeout, func() {
		log.Printf("[Stream %s] Timed out after %v, terminating\n", s.downloadID, timeout)
		s.bus.MarkError(s.downloadID, "Download timed out")
		s.Cleanup()
	})
}

// finish records the pipeline result and marks the session. The terminal
// mark is idempotent, so racing with the response pump or a cancel is fine.
func (s *Stream) finish(err error) {
	s.timer.Stop()
	s.err = err
	close(s.done)

	if err == nil {
		s.bus.MarkCompleted(s.downloadID)
	} else {
		s.bus.MarkError(s.downloadID, err.Error())
	}
}

// Wait blocks until every child has exited and returns the pipeline error
func (s *Stream) Wait() error {
	<-s.done
	return s.err
}

// Cleanup terminates the children (graceful, then hard after the grace
// period), destroys the pipes and stops the watchdog. Idempotent.
func (s *Stream) Cleanup() {
	s.once.Do(func() {
		s.timer.Stop()
		terminate(s.primary)
		terminate(s.secondary)
		for _, p := range s.pipes {
			p.Close()
		}
	})
}

// terminate sends SIGTERM and escalates to SIGKILL after the grace period
func terminate(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	proc := cmd.Process
	_ = proc.Signal(syscall.SIGTERM)
	time.AfterFunc(config.KillGracePeriod, func() {
		_ = proc.Kill()
	})
}

// scanExtractorStderr parses progress lines to learn the total size and
// logs anything else that is not a warning.
func (s *Stream) scanExtractorStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if total, ok := parseProgressLine(line); ok {
			s.bus.SetTotal(s.downloadID, total)
			continue
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.Contains(trimmed, "WARNING") {
			log.Printf("[Extractor %s] %s\n", s.downloadID, trimmed)
		}
	}
}

// parseProgressLine extracts the total byte count from an extractor
// progress line
func parseProgressLine(line string) (int64, bool) {
	m := progressLinePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	size, err := strconv.ParseFloat(m[2], 64)
	if err != nil || size <= 0 {
		return 0, false
	}
	mult := progressUnitMultiplier[strings.ToUpper(m[3])]
	return int64(size * float64(mult)), true
}

// countingReader feeds transferred byte counts to the progress bus in
// chunks, so the bus is not hammered per read
type countingReader struct {
	r          io.Reader
	bus        *ProgressBus
	downloadID string

	total      int64
	unreported int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.total += int64(n)
		cr.unreported += int64(n)
		if cr.unreported >= config.ProgressChunkSize {
			cr.bus.UpdateProgress(cr.downloadID, cr.total)
			cr.unreported = 0
		}
	}
	if err != nil && cr.unreported > 0 {
		cr.bus.UpdateProgress(cr.downloadID, cr.total)
		cr.unreported = 0
	}
	return n, err
}
