package gstreamer

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Format is the size and rate every source is normalised to before frames
// reach the loop.
type Format struct {
	Width  int
	Height int
	FPS    int
}

func (f Format) caps() string {
	if f.FPS > 0 {
		return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1", f.Width, f.Height, f.FPS)
	}
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", f.Width, f.Height)
}

type elements struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
}

// tail builds the shared conversion chain:
//
//	videoconvert → videoscale → videorate → capsfilter(RGB) → appsink
//
// videoscale keeps the aspect ratio by adding borders, so detection space is
// always a letterboxed Width×Height image.
func tail(f Format) ([]*gst.Element, *app.Sink, error) {
	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	convert.SetProperty("n-threads", 0)

	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoscale: %w", err)
	}
	scale.SetProperty("add-borders", true)

	rate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	rate.SetProperty("drop-only", true)
	rate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(f.caps()))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	return []*gst.Element{convert, scale, rate, capsfilter, sink.Element}, sink, nil
}

// buildCamera creates v4l2src → tail. The pipeline is left in NULL state.
func buildCamera(device string, f Format) (*elements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	if device != "" {
		src.SetProperty("device", device)
	}

	chain, sink, err := tail(f)
	if err != nil {
		return nil, err
	}
	// Live source: frames must not wait on the clock.
	sink.SetProperty("sync", false)

	all := append([]*gst.Element{src}, chain...)
	if err := pipeline.AddMany(all...); err != nil {
		return nil, fmt.Errorf("failed to add camera elements: %w", err)
	}
	if err := gst.ElementLinkMany(all...); err != nil {
		return nil, fmt.Errorf("failed to link camera pipeline: %w", err)
	}

	slog.Debug("gstreamer: camera pipeline created", "device", device, "caps", f.caps())
	return &elements{Pipeline: pipeline, AppSink: sink}, nil
}

// buildClip creates filesrc → decodebin ⇢ tail. decodebin pads are dynamic
// and linked in the pad-added callback.
func buildClip(path string, f Format) (*elements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("filesrc")
	if err != nil {
		return nil, fmt.Errorf("failed to create filesrc: %w", err)
	}
	src.SetProperty("location", path)

	decode, err := gst.NewElement("decodebin")
	if err != nil {
		return nil, fmt.Errorf("failed to create decodebin: %w", err)
	}

	chain, sink, err := tail(f)
	if err != nil {
		return nil, err
	}
	// Clips play at their own pace.
	sink.SetProperty("sync", true)

	if err := pipeline.AddMany(append([]*gst.Element{src, decode}, chain...)...); err != nil {
		return nil, fmt.Errorf("failed to add clip elements: %w", err)
	}
	if err := src.Link(decode); err != nil {
		return nil, fmt.Errorf("failed to link filesrc to decodebin: %w", err)
	}
	if err := gst.ElementLinkMany(chain...); err != nil {
		return nil, fmt.Errorf("failed to link clip pipeline: %w", err)
	}

	convert := chain[0]
	decode.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		onPadAdded(srcPad, convert)
	})

	slog.Debug("gstreamer: clip pipeline created", "path", path, "caps", f.caps())
	return &elements{Pipeline: pipeline, AppSink: sink}, nil
}

// onPadAdded links the first decodebin pad videoconvert accepts. Audio pads
// fail to link and are ignored.
func onPadAdded(srcPad *gst.Pad, sinkElement *gst.Element) {
	sinkPad := sinkElement.GetStaticPad("sink")
	if sinkPad == nil {
		slog.Error("gstreamer: failed to get sink pad from videoconvert")
		return
	}
	if sinkPad.IsLinked() {
		return
	}

	if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
		slog.Debug("gstreamer: skipping decodebin pad", "pad", srcPad.GetName(), "ret", ret)
		return
	}
	slog.Debug("gstreamer: decodebin pad linked", "pad", srcPad.GetName())
}

func destroy(e *elements) {
	if e == nil || e.Pipeline == nil {
		return
	}
	if err := e.Pipeline.SetState(gst.StateNull); err != nil {
		slog.Error("gstreamer: failed to set pipeline to NULL", "error", err)
	}
}
