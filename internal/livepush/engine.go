package livepush

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pcmid/clipchan/internal/errs"
)

var gstInitOnce sync.Once

// pushChunkSize is the byte-pump read size feeding the inbound appsrc,
// per spec §4.8.3.
const pushChunkSize = 4096

// inboundAppsrcMaxBytes bounds the inbound appsrc's internal queue.
const inboundAppsrcMaxBytes = 65536

var (
	pushesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipchan_livepush_pushes_total",
		Help: "Clips successfully pushed through the live-push engine.",
	})
	pushErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipchan_livepush_push_errors_total",
		Help: "Clip pushes that ended in a pipeline error rather than clean EOS.",
	})
	streamingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clipchan_livepush_streaming",
		Help: "1 while an outbound RTMP pipeline is in the Playing state.",
	})
)

func init() {
	prometheus.MustRegister(pushesTotal, pushErrorsTotal, streamingGauge)
}

// Engine owns the long-lived outbound pipeline (appsrc → overlay →
// encode → mux → RTMP sink, per spec §4.8.1) plus, while a clip is being
// pushed, the short-lived inbound decode → normalize-caps pipeline for
// that clip. Exactly
// one Engine exists per live broadcast; the Broadcast Scheduler holds it.
type Engine struct {
	cfg Config

	mu           sync.Mutex
	outbound     *gst.Pipeline
	videoSrc     *app.Source
	audioSrc     *app.Source
	overlay      *gst.Element
	isStreaming  bool
	outboundDead bool
	outboundBusW func()

	// pushMu serializes Push calls: overlapping pushes are undefined per
	// spec §4.8.3, so this is an exclusive (not re-entrant) lock rather
	// than relying on caller discipline alone.
	pushMu sync.Mutex

	rtmpURL string
}

// New initializes the process-wide GStreamer runtime (idempotent) and
// constructs an Engine with no pipeline yet; Start builds the outbound
// graph.
func New(cfg Config) *Engine {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
	return &Engine{cfg: cfg}
}

// IsStreaming reports whether the outbound pipeline is currently Playing.
func (e *Engine) IsStreaming() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isStreaming
}

// Start builds and plays the outbound pipeline described in spec §4.8.1,
// targeting rtmpURL. It is an error to call Start twice without an
// intervening Stop.
func (e *Engine) Start(rtmpURL string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isStreaming {
		return fmt.Errorf("livepush: already streaming: %w", errs.ErrConflict)
	}

	pipeline, err := gst.NewPipeline("clipchan-outbound")
	if err != nil {
		return &errs.PipelineError{Outbound: true, Err: fmt.Errorf("create outbound pipeline: %w", err)}
	}

	videoSrcEl, err := gst.NewElementWithName("appsrc", "videosrc")
	if err != nil {
		return outboundErr("create videosrc", err)
	}
	videoConvert, err := gst.NewElement("videoconvert")
	if err != nil {
		return outboundErr("create videoconvert", err)
	}
	overlay, err := gst.NewElementWithName("textoverlay", "overlay")
	if err != nil {
		return outboundErr("create textoverlay", err)
	}
	x264, err := gst.NewElement("x264enc")
	if err != nil {
		return outboundErr("create x264enc", err)
	}
	h264parse, err := gst.NewElement("h264parse")
	if err != nil {
		return outboundErr("create h264parse", err)
	}
	videoCaps, err := gst.NewElement("capsfilter")
	if err != nil {
		return outboundErr("create video capsfilter", err)
	}
	mux, err := gst.NewElementWithName("flvmux", "mux")
	if err != nil {
		return outboundErr("create flvmux", err)
	}

	audioSrcEl, err := gst.NewElementWithName("appsrc", "audiosrc")
	if err != nil {
		return outboundErr("create audiosrc", err)
	}
	audioConvert, err := gst.NewElement("audioconvert")
	if err != nil {
		return outboundErr("create audioconvert", err)
	}
	aacEnc, err := gst.NewElement("fdkaacenc")
	if err != nil {
		return outboundErr("create fdkaacenc", err)
	}
	aacParse, err := gst.NewElement("aacparse")
	if err != nil {
		return outboundErr("create aacparse", err)
	}
	audioCaps, err := gst.NewElement("capsfilter")
	if err != nil {
		return outboundErr("create audio capsfilter", err)
	}

	queue, err := gst.NewElement("queue")
	if err != nil {
		return outboundErr("create queue", err)
	}
	rtmpSink, err := gst.NewElement("rtmpsink")
	if err != nil {
		return outboundErr("create rtmpsink", err)
	}

	elements := []*gst.Element{
		videoSrcEl, videoConvert, overlay, x264, h264parse, videoCaps, mux,
		audioSrcEl, audioConvert, aacEnc, aacParse, audioCaps,
		queue, rtmpSink,
	}
	if err := pipeline.AddMany(elements...); err != nil {
		return outboundErr("add elements", err)
	}

	configureAppsrc(videoSrcEl)
	configureAppsrc(audioSrcEl)

	if err := setProperties(overlay, map[string]interface{}{
		"font-desc":         e.cfg.OverlayFont,
		"halignment":        "right",
		"valignment":        "top",
		"shaded-background": true,
	}); err != nil {
		return outboundErr("configure overlay", err)
	}

	if err := setProperties(x264, map[string]interface{}{
		"tune":             "zerolatency",
		"bitrate":          uint(e.cfg.VideoBitrate),
		"key-int-max":      uint(30),
		"bframes":          uint(0),
		"ref":              uint(2),
		"byte-stream":      true,
		"vbv-buf-capacity": uint(0),
		"speed-preset":     e.cfg.VideoSpeed,
	}); err != nil {
		return outboundErr("configure x264enc", err)
	}

	if err := videoCaps.SetProperty("caps", gst.NewCapsFromString("video/x-h264,profile=main")); err != nil {
		return outboundErr("set video caps", err)
	}

	audioCapsStr := fmt.Sprintf("audio/mpeg,mpegversion=4,stream-format=raw,bitrate=%d", e.cfg.AudioBitrate*1000)
	if err := audioCaps.SetProperty("caps", gst.NewCapsFromString(audioCapsStr)); err != nil {
		return outboundErr("set audio caps", err)
	}

	if err := setProperties(mux, map[string]interface{}{
		"streamable": true,
		"latency":    uint64(15000 * time.Millisecond),
	}); err != nil {
		return outboundErr("configure flvmux", err)
	}

	if err := setProperties(queue, map[string]interface{}{
		"leaky":            "no",
		"max-size-buffers": uint(900),
		"max-size-time":    uint64(15 * time.Second),
	}); err != nil {
		return outboundErr("configure queue", err)
	}

	if err := setProperties(rtmpSink, map[string]interface{}{
		"location": rtmpURL,
		"sync":     false,
	}); err != nil {
		return outboundErr("configure rtmpsink", err)
	}

	if err := gst.ElementLinkMany(videoSrcEl, videoConvert, overlay, x264, h264parse, videoCaps, mux); err != nil {
		return outboundErr("link video chain", err)
	}
	if err := gst.ElementLinkMany(audioSrcEl, audioConvert, aacEnc, aacParse, audioCaps); err != nil {
		return outboundErr("link audio chain", err)
	}
	audioCapsPad := audioCaps.GetStaticPad("src")
	muxAudioPad := mux.GetRequestPad("audio_%u")
	if audioCapsPad == nil || muxAudioPad == nil {
		return outboundErr("acquire audio mux pad", fmt.Errorf("nil pad"))
	}
	if err := audioCapsPad.Link(muxAudioPad); err != gst.PadLinkOK {
		return outboundErr("link audio to mux", fmt.Errorf("pad link result %v", err))
	}
	if err := gst.ElementLinkMany(mux, queue, rtmpSink); err != nil {
		return outboundErr("link mux to sink", err)
	}

	videoAppSrc := app.SrcFromElement(videoSrcEl)
	audioAppSrc := app.SrcFromElement(audioSrcEl)

	done := make(chan struct{})
	bus := pipeline.GetBus()
	bus.AddWatch(func(msg *gst.Message) bool {
		switch msg.Type() {
		case gst.MessageStateChanged:
			old, newState := msg.ParseStateChanged()
			slog.Debug("outbound pipeline state change", "old", old, "new", newState)
		case gst.MessageEOS:
			slog.Warn("outbound pipeline reached EOS unexpectedly")
			e.markStopped()
			close(done)
			return false
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("outbound pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
			e.markStopped()
			close(done)
			return false
		}
		return true
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		bus.RemoveWatch()
		return outboundErr("set outbound pipeline playing", err)
	}

	e.outbound = pipeline
	e.videoSrc = videoAppSrc
	e.audioSrc = audioAppSrc
	e.overlay = overlay
	e.isStreaming = true
	e.outboundDead = false
	e.rtmpURL = rtmpURL
	e.outboundBusW = func() {
		select {
		case <-done:
		default:
			bus.RemoveWatch()
		}
	}
	streamingGauge.Set(1)
	slog.Info("live-push outbound pipeline started", "rtmp_url", rtmpURL)
	return nil
}

// UpdateTitle sets the on-screen overlay text. Safe to call at any time
// after Start; takes effect on the next encoded video frame.
func (e *Engine) UpdateTitle(text string) error {
	e.mu.Lock()
	overlay := e.overlay
	streaming := e.isStreaming
	e.mu.Unlock()
	if !streaming {
		return fmt.Errorf("livepush: update title: %w", errNotRunning)
	}
	if err := overlay.SetProperty("text", text); err != nil {
		return &errs.PipelineError{Outbound: true, Err: fmt.Errorf("set overlay text: %w", err)}
	}
	return nil
}

// Push streams one clip's bytes through a fresh inbound decode pipeline
// and splices its samples into the outbound appsrcs until the reader is
// exhausted (EOS) or the inbound pipeline errors. It blocks until that
// clip's pipeline finishes. Concurrent calls are serialized on pushMu: a
// second call blocks until the first one returns.
func (e *Engine) Push(ctx context.Context, r io.Reader) error {
	e.pushMu.Lock()
	defer e.pushMu.Unlock()

	e.mu.Lock()
	streaming := e.isStreaming
	dead := e.outboundDead
	videoSrc, audioSrc := e.videoSrc, e.audioSrc
	e.mu.Unlock()
	if !streaming {
		if dead {
			return &errs.PipelineError{Outbound: true, Err: fmt.Errorf("outbound pipeline is down")}
		}
		return fmt.Errorf("livepush: push: %w", errNotRunning)
	}

	inbound, err := gst.NewPipeline("clipchan-inbound")
	if err != nil {
		return &errs.PipelineError{Err: fmt.Errorf("create inbound pipeline: %w", err)}
	}

	srcEl, err := gst.NewElementWithName("appsrc", "source")
	if err != nil {
		return inboundErr("create source appsrc", err)
	}
	if err := setProperties(srcEl, map[string]interface{}{
		"is-live":      true,
		"format":       gst.FormatTime,
		"block":        true,
		"max-bytes":    uint64(inboundAppsrcMaxBytes),
		"do-timestamp": true,
	}); err != nil {
		return inboundErr("configure source appsrc", err)
	}
	decodebin, err := gst.NewElementWithName("decodebin", "decodebin")
	if err != nil {
		return inboundErr("create decodebin", err)
	}

	videoConvert, _ := gst.NewElement("videoconvert")
	videoRate, _ := gst.NewElement("videorate")
	videoScale, _ := gst.NewElement("videoscale")
	videoCaps, _ := gst.NewElement("capsfilter")
	videoSink, err := gst.NewElementWithName("appsink", "video_sink")
	if err != nil {
		return inboundErr("create video appsink", err)
	}

	audioConvert, _ := gst.NewElement("audioconvert")
	audioRate, _ := gst.NewElement("audiorate")
	audioResample, _ := gst.NewElement("audioresample")
	audioCaps, _ := gst.NewElement("capsfilter")
	audioSink, err := gst.NewElementWithName("appsink", "audio_sink")
	if err != nil {
		return inboundErr("create audio appsink", err)
	}

	videoCapsStr := fmt.Sprintf("video/x-raw,format=I420,width=%d,height=%d,framerate=%d/1",
		e.cfg.VideoWidth, e.cfg.VideoHeight, e.cfg.VideoFPS)
	videoCaps.SetProperty("caps", gst.NewCapsFromString(videoCapsStr))

	audioCapsStr := fmt.Sprintf("audio/x-raw,format=%s,rate=%d,channels=%d,layout=interleaved",
		e.cfg.AudioSampleFmt, e.cfg.AudioRate, e.cfg.AudioChannels)
	audioCaps.SetProperty("caps", gst.NewCapsFromString(audioCapsStr))

	for _, s := range []*gst.Element{videoSink, audioSink} {
		setProperties(s, map[string]interface{}{"sync": true, "emit-signals": true, "drop": true})
	}

	if err := inbound.AddMany(srcEl, decodebin, videoConvert, videoRate, videoScale, videoCaps, videoSink,
		audioConvert, audioRate, audioResample, audioCaps, audioSink); err != nil {
		return inboundErr("add inbound elements", err)
	}

	if err := srcEl.Link(decodebin); err != nil {
		return inboundErr("link source to decodebin", err)
	}
	if err := gst.ElementLinkMany(videoConvert, videoRate, videoScale, videoCaps, videoSink); err != nil {
		return inboundErr("link video branch", err)
	}
	if err := gst.ElementLinkMany(audioConvert, audioRate, audioResample, audioCaps, audioSink); err != nil {
		return inboundErr("link audio branch", err)
	}

	videoLinked := false
	audioLinked := false
	var linkMu sync.Mutex
	decodebin.Connect("pad-added", func(self *gst.Element, pad *gst.Pad) {
		caps := pad.GetCurrentCaps()
		if caps == nil {
			return
		}
		name := caps.String()
		linkMu.Lock()
		defer linkMu.Unlock()
		switch {
		case strings.HasPrefix(name, "video/") && !videoLinked:
			sinkPad := videoConvert.GetStaticPad("sink")
			if sinkPad != nil && !sinkPad.IsLinked() {
				pad.Link(sinkPad)
				videoLinked = true
			}
		case strings.HasPrefix(name, "audio/") && !audioLinked:
			sinkPad := audioConvert.GetStaticPad("sink")
			if sinkPad != nil && !sinkPad.IsLinked() {
				pad.Link(sinkPad)
				audioLinked = true
			}
		default:
			slog.Debug("ignoring unrecognized decodebin pad", "caps", name)
		}
	})

	appVideoSink := app.SinkFromElement(videoSink)
	appAudioSink := app.SinkFromElement(audioSink)

	notify := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(notify) }) }

	appVideoSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return spliceSample(sink, videoSrc)
		},
		EOSFunc: func(sink *app.Sink) { finish() },
	})
	appAudioSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return spliceSample(sink, audioSrc)
		},
		EOSFunc: func(sink *app.Sink) { finish() },
	})

	bus := inbound.GetBus()
	var pushErr error
	bus.AddWatch(func(msg *gst.Message) bool {
		switch msg.Type() {
		case gst.MessageEOS:
			finish()
			return false
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Warn("inbound pipeline error, ending clip", "error", gerr.Error(), "debug", gerr.DebugString())
			pushErr = &errs.PipelineError{Outbound: false, Err: gerr}
			finish()
			return false
		}
		return true
	})

	inboundSrc := app.SrcFromElement(srcEl)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		buf := make([]byte, pushChunkSize)
		for {
			n, rerr := r.Read(buf)
			if n > 0 {
				gbuf := gst.NewBufferFromBytes(append([]byte(nil), buf[:n]...))
				if ret := inboundSrc.PushBuffer(gbuf); ret != gst.FlowOK {
					return
				}
			}
			if rerr == io.EOF {
				inboundSrc.EndStream()
				return
			}
			if rerr != nil {
				slog.Warn("clip reader error, ending stream", "error", rerr)
				inboundSrc.EndStream()
				return
			}
		}
	}()

	if err := inbound.SetState(gst.StatePlaying); err != nil {
		bus.RemoveWatch()
		return inboundErr("set inbound pipeline playing", err)
	}

	select {
	case <-notify:
	case <-ctx.Done():
		pushErr = ctx.Err()
	}

	inbound.SetState(gst.StateNull)
	bus.RemoveWatch()
	<-pumpDone

	if pushErr != nil {
		pushErrorsTotal.Inc()
		return pushErr
	}
	pushesTotal.Inc()
	return nil
}

// spliceSample pulls the next sample off an inbound appsink and
// re-publishes it to the corresponding outbound appsrc with PTS/DTS
// cleared to NONE, so the outbound pipeline's do-timestamp=true
// reassigns contiguous timestamps across clip boundaries (spec §4.8.2).
func spliceSample(sink *app.Sink, dst *app.Source) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}
	buf := sample.GetBuffer()
	if buf == nil {
		return gst.FlowOK
	}
	out := buf.Copy()
	out.SetPresentationTimestamp(gst.ClockTimeNone)
	out.SetDecodingTimestamp(gst.ClockTimeNone)
	return dst.PushBuffer(out)
}

// Stop tears down the outbound pipeline. Fails with NotRunning if Start
// was never called.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isStreaming {
		return fmt.Errorf("livepush: stop: %w", errNotRunning)
	}

	if err := e.outbound.SetState(gst.StateNull); err != nil {
		return &errs.PipelineError{Outbound: true, Err: fmt.Errorf("stop outbound pipeline: %w", err)}
	}
	waitForNull(e.outbound, 5*time.Second)
	if e.outboundBusW != nil {
		e.outboundBusW()
	}

	e.outbound = nil
	e.videoSrc = nil
	e.audioSrc = nil
	e.overlay = nil
	e.isStreaming = false
	streamingGauge.Set(0)
	slog.Info("live-push outbound pipeline stopped", "rtmp_url", e.rtmpURL)
	return nil
}

// Close best-effort stops the engine without blocking; used from
// deferred cleanup paths where acquiring the lock must not stall.
func (e *Engine) Close() {
	if e.mu.TryLock() {
		defer e.mu.Unlock()
		if e.isStreaming && e.outbound != nil {
			e.outbound.SetState(gst.StateNull)
			e.isStreaming = false
			streamingGauge.Set(0)
		}
	}
}

// markStopped records that the outbound pipeline died on its own (bus
// EOS or Error), as opposed to a clean Stop. Push reports this back to
// the driver as a fatal outbound PipelineError.
func (e *Engine) markStopped() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isStreaming = false
	e.outboundDead = true
	streamingGauge.Set(0)
}

func waitForNull(p *gst.Pipeline, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.GetCurrentState() == gst.StateNull {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func configureAppsrc(el *gst.Element) {
	setProperties(el, map[string]interface{}{
		"is-live":      true,
		"do-timestamp": true,
		"format":       gst.FormatTime,
	})
}

func setProperties(el *gst.Element, props map[string]interface{}) error {
	for k, v := range props {
		if err := el.SetProperty(k, v); err != nil {
			return fmt.Errorf("set %s=%v: %w", k, v, err)
		}
	}
	return nil
}

func outboundErr(op string, err error) error {
	return &errs.PipelineError{Outbound: true, Err: fmt.Errorf("%s: %w", op, err)}
}

func inboundErr(op string, err error) error {
	return &errs.PipelineError{Outbound: false, Err: fmt.Errorf("%s: %w", op, err)}
}

var errNotRunning = fmt.Errorf("live-push engine not running")
