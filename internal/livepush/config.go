// Package livepush is the two-stage media pipeline that turns a rolling
// sequence of clip byte-streams into one continuous RTMP broadcast. It is
// built on go-gst, grounded on the manifest dependency surfaced by
// other_examples/manifests/helixml-helix/go.mod (the only pack reference
// to a native GStreamer binding) and structured the way the teacher
// structures long-lived, lock-guarded stateful services
// (internal/playlist/master.go's mutex-guarded struct with explicit
// Start/Stop lifecycle methods).
package livepush

// Config carries the encode/overlay parameters for one broadcast
// session. Defaults match spec §6: 1280x720@30fps H.264 main profile at
// 2500kbps, AAC-LC 128kbps 44.1kHz stereo, right-aligned shaded overlay.
type Config struct {
	VideoWidth     int
	VideoHeight    int
	VideoFPS       int
	VideoBitrate   int // kbps
	VideoSpeed     string
	AudioBitrate   int // kbps
	AudioSampleFmt string
	AudioRate      int
	AudioChannels  int
	OverlayFont    string
}

// DefaultConfig returns the spec's §6 video/audio/overlay defaults.
func DefaultConfig() Config {
	return Config{
		VideoWidth:     1280,
		VideoHeight:    720,
		VideoFPS:       30,
		VideoBitrate:   2500,
		VideoSpeed:     "faster",
		AudioBitrate:   128,
		AudioSampleFmt: "S16LE",
		AudioRate:      44100,
		AudioChannels:  2,
		OverlayFont:    "Sans, 24",
	}
}
