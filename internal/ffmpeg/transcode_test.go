package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLoudnormStats(t *testing.T) {
	stderr := []byte(`[Parsed_loudnorm_0 @ 0x55f]
{
	"input_i" : "-23.71",
	"input_tp" : "-4.02",
	"input_lra" : "7.50",
	"input_thresh" : "-34.02",
	"output_i" : "-14.00",
	"normalization_type" : "dynamic",
	"target_offset" : "0.00"
}
`)

	stats, err := parseLoudnormStats(stderr)
	require.NoError(t, err)
	require.Equal(t, "-23.71", stats.InputI)
	require.Equal(t, "-4.02", stats.InputTP)
	require.Equal(t, "7.50", stats.InputLRA)
	require.Equal(t, "-34.02", stats.InputThresh)
}

func TestParseLoudnormStatsNoJSON(t *testing.T) {
	_, err := parseLoudnormStats([]byte("some unrelated ffmpeg log output, no braces here"))
	require.Error(t, err)
}

func TestParseLoudnormStatsFindsFirstObjectOnly(t *testing.T) {
	// loudnorm prints exactly one JSON block; guard against the dotall
	// regex over-matching across multiple brace-delimited chunks.
	stderr := []byte(`{"input_i":"-23.00","input_tp":"-1.00","input_lra":"5.00","input_thresh":"-33.00"} trailing {"unrelated":"1"}`)

	stats, err := parseLoudnormStats(stderr)
	require.NoError(t, err)
	require.Equal(t, "-23.00", stats.InputI)
}
