package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// FrameCallback receives each extracted JPEG frame.
type FrameCallback func(frame []byte) error

// Extractor produces JPEG frames from a camera URL until ctx is done or the
// feed ends.
type Extractor interface {
	Extract(ctx context.Context, url string, fps, width int, fn FrameCallback) error
}

// FFmpegExtractor shells out to ffmpeg and splits its MJPEG output.
type FFmpegExtractor struct {
	Binary string
}

func (f FFmpegExtractor) Extract(ctx context.Context, url string, fps, width int, fn FrameCallback) error {
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, ffmpegArgs(url, fps, width)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			slog.Warn("ffmpeg", "url", redact(url), "output", sc.Text())
		}
	}()

	n, readErr := readJPEGFrames(stdout, fn)
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if readErr != nil {
		return fmt.Errorf("read frames: %w", readErr)
	}
	if n == 0 {
		return fmt.Errorf("ffmpeg produced no frames: %w", errors.Join(waitErr, io.ErrUnexpectedEOF))
	}
	return waitErr
}

// ffmpegArgs builds the command line: network options for the URL scheme,
// then an fps and width filter feeding MJPEG to stdout.
func ffmpegArgs(url string, fps, width int) []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	switch {
	case strings.HasPrefix(url, "rtsp://"), strings.HasPrefix(url, "rtsps://"):
		args = append(args, "-rtsp_transport", "tcp", "-timeout", "5000000")
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5")
	}

	filter := fmt.Sprintf("fps=%d", fps)
	if width > 0 {
		filter += fmt.Sprintf(",scale=%d:-2", width)
	}
	return append(args,
		"-i", url,
		"-vf", filter,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
}

const maxFrameSize = 10 << 20

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// readJPEGFrames splits a stream of concatenated JPEGs on SOI/EOI markers
// and returns how many frames it delivered. A callback error is logged and
// does not stop the stream. A trailing partial frame is discarded.
func readJPEGFrames(r io.Reader, fn FrameCallback) (int, error) {
	br := bufio.NewReaderSize(r, 512*1024)
	var (
		buf bytes.Buffer
		n   int
	)
	for {
		if err := skipTo(br, jpegSOI); err != nil {
			return n, eofOK(err)
		}
		buf.Reset()
		buf.Write(jpegSOI)

		var prev byte
		for {
			b, err := br.ReadByte()
			if err != nil {
				return n, eofOK(err)
			}
			buf.WriteByte(b)
			if prev == jpegEOI[0] && b == jpegEOI[1] {
				break
			}
			prev = b
			if buf.Len() > maxFrameSize {
				return n, fmt.Errorf("jpeg frame exceeds %d bytes", maxFrameSize)
			}
		}

		frame := append([]byte(nil), buf.Bytes()...)
		n++
		if err := fn(frame); err != nil {
			slog.Warn("frame callback", "error", err)
		}
	}
}

func skipTo(br *bufio.Reader, marker []byte) error {
	var prev byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			return err
		}
		if prev == marker[0] && b == marker[1] {
			return nil
		}
		prev = b
	}
}

func eofOK(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// redact strips credentials from a camera URL before logging.
func redact(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		if slash := strings.Index(rest, "/"); slash < 0 || at < slash {
			rest = "***@" + rest[at+1:]
		}
	}
	return scheme + "://" + rest
}
