// Package ffmpeg shells out to the system ffmpeg binary to loudness-
// analyze and normalize uploaded clips, the two-pass transcode step of
// the Ingestion Pipeline (spec §4.7). Grounded on the teacher's
// subprocess idiom in the original internal/ffmpeg/encoder.go (stdout/
// stderr pipes, exec.CommandContext, structured slog of subprocess
// output).
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
)

// loudnormJSONRe finds the first JSON object ffmpeg's loudnorm filter
// prints to stderr in its print_format=json analysis pass.
var loudnormJSONRe = regexp.MustCompile(`(?s)\{.*?\}`)

// LoudnessStats is the subset of ffmpeg's loudnorm analysis this pipeline
// feeds into the second-pass normalization filter.
type LoudnessStats struct {
	InputI      string `json:"input_i"`
	InputTP     string `json:"input_tp"`
	InputLRA    string `json:"input_lra"`
	InputThresh string `json:"input_thresh"`
}

// Transcoder runs the two ffmpeg passes described in spec §4.7.2-3.
type Transcoder struct {
	binary string
}

func NewTranscoder(binary string) *Transcoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Transcoder{binary: binary}
}

// AnalyzeLoudness runs ffmpeg's loudnorm filter in analysis mode and
// parses the JSON summary block it prints to stderr.
func (t *Transcoder) AnalyzeLoudness(ctx context.Context, inputPath string) (*LoudnessStats, error) {
	args := []string{
		"-i", inputPath,
		"-af", "loudnorm=print_format=json",
		"-f", "null", "/dev/null",
	}
	cmd := exec.CommandContext(ctx, t.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// loudnorm always exits non-zero against a null muxer target; the
	// summary we need is in stderr regardless of the exit code.
	_ = cmd.Run()

	return parseLoudnormStats(stderr.Bytes())
}

// parseLoudnormStats scans ffmpeg's loudnorm analysis stderr for the first
// JSON object and decodes it. Split out from AnalyzeLoudness so the
// scan-and-parse logic can be exercised without a real ffmpeg binary.
func parseLoudnormStats(stderr []byte) (*LoudnessStats, error) {
	match := loudnormJSONRe.Find(stderr)
	if match == nil {
		return nil, fmt.Errorf("loudnorm analysis: no JSON summary found in ffmpeg output")
	}

	var stats LoudnessStats
	if err := json.Unmarshal(match, &stats); err != nil {
		return nil, fmt.Errorf("parse loudnorm summary: %w", err)
	}
	return &stats, nil
}

// Normalize runs the linear loudnorm correction pass, stream-copying
// video and re-encoding only audio (spec §4.7.3).
func (t *Transcoder) Normalize(ctx context.Context, inputPath, outputPath string, stats *LoudnessStats) error {
	filter := fmt.Sprintf(
		"loudnorm=linear=true:I=-14:TP=0:LRA=50:measured_I=%s:measured_TP=%s:measured_LRA=%s:measured_thresh=%s",
		stats.InputI, stats.InputTP, stats.InputLRA, stats.InputThresh,
	)
	args := []string{
		"-loglevel", "error",
		"-i", inputPath,
		"-af", filter,
		"-ar", "48k",
		"-vcodec", "copy",
		outputPath,
	}
	cmd := exec.CommandContext(ctx, t.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg normalize: %w: %s", err, stderr.String())
	}
	return nil
}
