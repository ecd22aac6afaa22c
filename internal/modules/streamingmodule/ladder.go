package streamingmodule

// QualityLadderService builds the adaptive bitrate ladder for a source.
// Deterministic; the tier table is fixed and ordered highest first.
type QualityLadderService struct{}

// NewQualityLadderService creates a new ladder service.
func NewQualityLadderService() *QualityLadderService {
	return &QualityLadderService{}
}

// ladderTiers is the fixed rung table, highest first. Widths assume 16:9;
// actual encode geometry follows the source aspect ratio at the executor.
var ladderTiers = []QualityVariant{
	{Label: "1080p", Width: 1920, Height: 1080, VideoBitrate: 5_000_000, AudioBitrate: 128_000},
	{Label: "720p", Width: 1280, Height: 720, VideoBitrate: 3_000_000, AudioBitrate: 128_000},
	{Label: "480p", Width: 854, Height: 480, VideoBitrate: 1_500_000, AudioBitrate: 96_000},
	{Label: "360p", Width: 640, Height: 360, VideoBitrate: 800_000, AudioBitrate: 96_000},
}

// Build returns the variants for a source, pre-sorted descending by
// bandwidth. Tiers taller than the source are never included, and the caller
// constraints cut further. When nothing survives filtering the source's own
// geometry becomes the single variant, so the result is never empty.
func (s *QualityLadderService) Build(probe MediaProbe, opts StreamingOptions) []QualityVariant {
	var variants []QualityVariant
	for _, tier := range ladderTiers {
		if tier.Height > probe.Height {
			continue
		}
		if opts.MaxHeight > 0 && tier.Height > opts.MaxHeight {
			continue
		}
		if opts.MaxBitrate > 0 && tier.VideoBitrate > opts.MaxBitrate {
			continue
		}
		variants = append(variants, tier)
	}

	if len(variants) == 0 {
		return []QualityVariant{sourceVariant(probe)}
	}
	return variants
}

// sourceVariant mirrors the source's own geometry and bitrate, used when the
// source sits below the lowest tier or the constraints exclude everything.
func sourceVariant(probe MediaProbe) QualityVariant {
	return QualityVariant{
		Label:        "source",
		Width:        probe.Width,
		Height:       probe.Height,
		VideoBitrate: probe.Bitrate,
	}
}
