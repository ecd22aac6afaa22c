package streamingmodule

import "strings"

// TranscodeDecisionService maps a source profile and client capabilities to
// a delivery plan. Deterministic and side-effect free: every valid probe and
// option pair yields a decision.
type TranscodeDecisionService struct{}

// NewTranscodeDecisionService creates a new decision service.
func NewTranscodeDecisionService() *TranscodeDecisionService {
	return &TranscodeDecisionService{}
}

// codecFamilies normalizes ffprobe codec names to the family names clients
// advertise.
var codecFamilies = map[string]string{
	"h264":       "h264",
	"avc":        "h264",
	"avc1":       "h264",
	"hevc":       "hevc",
	"h265":       "hevc",
	"hvc1":       "hevc",
	"hev1":       "hevc",
	"av1":        "av1",
	"av01":       "av1",
	"vp9":        "vp9",
	"vp09":       "vp9",
	"vp8":        "vp8",
	"mpeg2":      "mpeg2",
	"mpeg2video": "mpeg2",
}

// CodecFamily normalizes a codec name to its family, falling back to the
// lowercased name for codecs outside the table.
func CodecFamily(codec string) string {
	name := strings.ToLower(strings.TrimSpace(codec))
	if family, ok := codecFamilies[name]; ok {
		return family
	}
	return name
}

// Decide computes the delivery plan for one source/client pair.
//
// Video is compatible when the source family appears anywhere in the
// client's list; otherwise the client's first preference wins. Audio other
// than AAC is always re-encoded to AAC. Remux and partial transcode must cut
// segments on the source's existing keyframes; a full transcode places its
// own keyframes at segment boundaries.
func (s *TranscodeDecisionService) Decide(probe MediaProbe, opts StreamingOptions) TranscodeDecision {
	sourceFamily := CodecFamily(probe.VideoCodec)

	videoCompatible := false
	for _, codec := range opts.SupportedCodecs {
		if CodecFamily(codec) == sourceFamily {
			videoCompatible = true
			break
		}
	}

	targetVideo := sourceFamily
	if !videoCompatible && len(opts.SupportedCodecs) > 0 {
		targetVideo = CodecFamily(opts.SupportedCodecs[0])
	}

	audioCompatible := CodecFamily(probe.AudioCodec) == "aac"
	targetAudio := "aac"

	var mode TranscodeMode
	switch {
	case videoCompatible && audioCompatible:
		mode = ModeRemux
	case videoCompatible:
		mode = ModePartialTranscode
	default:
		mode = ModeFullTranscode
	}

	container := ContainerMPEGTS
	if targetVideo == "av1" {
		container = ContainerFMP4
	}

	return TranscodeDecision{
		Mode:                   mode,
		VideoCodec:             targetVideo,
		AudioCodec:             targetAudio,
		Container:              container,
		NeedsKeyframeAlignment: mode != ModeFullTranscode,
	}
}
