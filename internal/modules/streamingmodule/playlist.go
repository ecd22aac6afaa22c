package streamingmodule

import (
	"fmt"
	"math"
	"strings"
)

// HlsPlaylistService renders M3U8 text from session state. Both generators
// are pure string transformations: UTF-8, "\n" line endings, no BOM, no
// side effects.
type HlsPlaylistService struct {
	segmentLength int
}

// NewHlsPlaylistService creates a playlist generator with the configured
// target segment duration in seconds.
func NewHlsPlaylistService(segmentLength int) *HlsPlaylistService {
	return &HlsPlaylistService{segmentLength: segmentLength}
}

// rfc6381Codecs maps codec families to the CODECS attribute strings most
// HLS clients expect.
var rfc6381Codecs = map[string]string{
	"h264": "avc1.640029",
	"hevc": "hvc1.1.6.L120.90",
	"av1":  "av01.0.08M.08",
	"vp9":  "vp09.00.10.08",
	"aac":  "mp4a.40.2",
}

func codecAttribute(family string) string {
	if s, ok := rfc6381Codecs[family]; ok {
		return s
	}
	return family
}

// GenerateMasterPlaylist renders the index of renditions. Adaptive sessions
// get one STREAM-INF per variant in descending bandwidth order, each
// pointing at "<label>/stream.m3u8"; single-variant sessions get one
// synthetic entry matching the probe, pointing at "stream.m3u8".
func (p *HlsPlaylistService) GenerateMasterPlaylist(session *StreamSession) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")

	codecs := fmt.Sprintf("%s,%s",
		codecAttribute(session.Decision.VideoCodec),
		codecAttribute(session.Decision.AudioCodec))

	variants := session.Variants()
	if len(variants) == 0 {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,CODECS=\"%s\"\n",
			session.Probe.Bitrate, session.Probe.Width, session.Probe.Height, codecs)
		b.WriteString("stream.m3u8\n")
		return b.String()
	}

	for _, v := range variants {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,CODECS=\"%s\"\n",
			v.Bandwidth(), v.Width, v.Height, codecs)
		fmt.Fprintf(&b, "%s/stream.m3u8\n", v.Label)
	}
	return b.String()
}

// GenerateMediaPlaylist renders the per-rendition segment index. MPEG-TS
// sessions use protocol version 3 and ".ts" segments; fMP4 sessions use
// version 6, an EXT-X-MAP init segment and ".m4s". Every segment runs the
// configured length except the last, which takes the remainder.
func (p *HlsPlaylistService) GenerateMediaPlaylist(session *StreamSession) string {
	fmp4 := session.Decision.Container == ContainerFMP4

	version := 3
	ext := "ts"
	if fmp4 {
		version = 6
		ext = "m4s"
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	fmt.Fprintf(&b, "#EXT-X-VERSION:%d\n", version)
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", p.segmentLength)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	if fmp4 {
		b.WriteString("#EXT-X-MAP:URI=\"init.mp4\"\n")
	}

	segLen := float64(p.segmentLength)
	count := int(math.Ceil(session.Probe.Duration / segLen))
	for i := 0; i < count; i++ {
		duration := segLen
		if i == count-1 {
			if rem := session.Probe.Duration - float64(count-1)*segLen; rem > 0 {
				duration = rem
			}
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", duration)
		fmt.Fprintf(&b, "segment_%03d.%s\n", i, ext)
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}
