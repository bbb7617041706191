package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os/exec"

	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"

	"github.com/apollolytics/dialogue-backend/internal/config"
)

// ErrConversion marks audio that could not be normalized to WAV. Unlike most
// upstream failures this one is user-visible: the client must learn the turn
// was rejected rather than have it silently dropped.
var ErrConversion = errors.New("audio conversion failed")

// Browsers commonly upload WebM/EBML containers while claiming WAV.
var webmMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// Normalizer validates user-submitted audio and converts it into the canonical
// WAV form the transcription API accepts.
type Normalizer struct {
	ffmpegPath string
}

// NewNormalizer builds a normalizer using the configured ffmpeg binary.
func NewNormalizer(cfg config.AudioConfig) *Normalizer {
	path := cfg.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	return &Normalizer{ffmpegPath: path}
}

// EnsureWAV checks base64 audio claimed to be WAV. Valid WAV input is returned
// unchanged. Otherwise the bytes are transcoded: WebM-signature input with an
// explicit demuxer, anything else via ffmpeg's format auto-detection. Failure
// to transcode yields ErrConversion.
func (n *Normalizer) EnsureWAV(ctx context.Context, audioBase64 string) (string, error) {
	logrus.Info("[audio] processing audio input")

	raw, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64 payload: %v", ErrConversion, err)
	}

	if IsValidWAV(raw) {
		logrus.Info("[audio] audio is valid WAV format")
		return audioBase64, nil
	}

	var converted []byte
	if bytes.HasPrefix(raw, webmMagic) {
		logrus.Info("[audio] converting WebM format to WAV")
		converted, err = n.transcode(ctx, raw, "webm")
	} else {
		logrus.Info("[audio] converting unknown format to WAV")
		converted, err = n.transcode(ctx, raw, "")
	}
	if err != nil {
		logrus.Errorf("[audio] conversion failed: %v", err)
		return "", fmt.Errorf("%w: %v", ErrConversion, err)
	}

	logrus.Info("[audio] audio conversion successful")
	return base64.StdEncoding.EncodeToString(converted), nil
}

// transcode pipes the payload through ffmpeg. An empty format lets ffmpeg
// probe the container itself.
func (n *Normalizer) transcode(ctx context.Context, data []byte, format string) ([]byte, error) {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if format != "" {
		args = append(args, "-f", format)
	}
	args = append(args, "-i", "pipe:0", "-f", "wav", "pipe:1")

	cmd := exec.CommandContext(ctx, n.ffmpegPath, args...)
	cmd.Stdin = bytes.NewReader(data)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := bytes.TrimSpace(stderr.Bytes())
		if len(detail) > 0 {
			return nil, fmt.Errorf("ffmpeg: %s", detail)
		}
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}

	out := stdout.Bytes()
	if !IsValidWAV(out) {
		return nil, errors.New("ffmpeg produced no usable WAV output")
	}
	return out, nil
}

// IsValidWAV reports whether the bytes parse as a WAV container.
func IsValidWAV(data []byte) bool {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	return decoder.IsValidFile()
}

// Duration reports the clip length in seconds of a WAV payload.
func Duration(data []byte) (float64, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	decoder.ReadInfo()
	if err := decoder.Err(); err != nil {
		return 0, fmt.Errorf("failed to read WAV header: %w", err)
	}

	duration, err := decoder.Duration()
	if err != nil {
		return 0, fmt.Errorf("failed to compute WAV duration: %w", err)
	}
	return duration.Seconds(), nil
}

// DurationBase64 reports the clip length in seconds of a base64 WAV payload.
func DurationBase64(audioBase64 string) (float64, error) {
	data, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return 0, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	return Duration(data)
}
