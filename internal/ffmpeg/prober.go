// Package ffmpeg implements the streaming engine's external collaborators
// on top of the ffmpeg/ffprobe binaries: media probing, encoding process
// supervision and segment storage.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/nightjar-media/nightjar/internal/modules/streamingmodule"
)

// Prober extracts a technical profile from a source file with a single
// ffprobe JSON call.
type Prober struct {
	binary string
}

// NewProber creates a prober using the given ffprobe binary path, or plain
// "ffprobe" from PATH when empty.
func NewProber(binary string) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary}
}

// Probe runs ffprobe against sourcePath and returns the parsed profile.
func (p *Prober) Probe(ctx context.Context, sourcePath string) (*streamingmodule.MediaProbe, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		sourcePath,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %q: %w", sourcePath, err)
	}

	return ParseProbeJSON(out)
}

// ffprobe JSON wire types, limited to the fields the engine consumes.

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type ffprobeStream struct {
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Disposition  struct {
		AttachedPic int `json:"attached_pic"`
	} `json:"disposition"`
}

// ParseProbeJSON converts raw ffprobe JSON output into a MediaProbe.
// Exported for testing without a real ffprobe binary.
func ParseProbeJSON(data []byte) (*streamingmodule.MediaProbe, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	probe := &streamingmodule.MediaProbe{
		Duration: parseFloat(raw.Format.Duration),
		Bitrate:  parseInt64(raw.Format.BitRate),
	}

	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			// Cover art shows up as an attached-pic video stream; skip it.
			if s.Disposition.AttachedPic == 1 {
				continue
			}
			if probe.VideoCodec == "" {
				probe.VideoCodec = s.CodecName
				probe.Width = s.Width
				probe.Height = s.Height
				probe.FrameRate = parseFrameRate(s.AvgFrameRate)
			}
		case "audio":
			if probe.AudioCodec == "" {
				probe.AudioCodec = s.CodecName
			}
		}
	}

	if probe.VideoCodec == "" {
		return nil, fmt.Errorf("no playable video stream found")
	}
	return probe, nil
}

// parseFrameRate converts ffprobe's "num/den" rational into a float.
func parseFrameRate(rate string) float64 {
	num, den, ok := strings.Cut(rate, "/")
	if !ok {
		return parseFloat(rate)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
