package streamingmodule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func variantLabelsOf(variants []QualityVariant) []string {
	labels := make([]string, len(variants))
	for i, v := range variants {
		labels[i] = v.Label
	}
	return labels
}

func TestLadderFullHDSourceYieldsFourTiers(t *testing.T) {
	svc := NewQualityLadderService()

	probe := MediaProbe{Width: 1920, Height: 1080, Bitrate: 8_000_000}
	variants := svc.Build(probe, StreamingOptions{Quality: QualityAuto})

	assert.Equal(t, []string{"1080p", "720p", "480p", "360p"}, variantLabelsOf(variants))

	// Pre-sorted descending by bandwidth.
	for i := 1; i < len(variants); i++ {
		assert.Greater(t, variants[i-1].Bandwidth(), variants[i].Bandwidth())
	}
}

func TestLadderNeverUpscales(t *testing.T) {
	svc := NewQualityLadderService()

	probe := MediaProbe{Width: 1280, Height: 720, Bitrate: 4_000_000}
	variants := svc.Build(probe, StreamingOptions{Quality: QualityAuto})

	assert.Equal(t, []string{"720p", "480p", "360p"}, variantLabelsOf(variants))
}

func TestLadderMaxHeightFilter(t *testing.T) {
	svc := NewQualityLadderService()

	probe := MediaProbe{Width: 1920, Height: 1080, Bitrate: 8_000_000}
	variants := svc.Build(probe, StreamingOptions{Quality: QualityAuto, MaxHeight: 480})

	assert.Equal(t, []string{"480p", "360p"}, variantLabelsOf(variants))
}

func TestLadderMaxBitrateFilter(t *testing.T) {
	svc := NewQualityLadderService()

	probe := MediaProbe{Width: 1920, Height: 1080, Bitrate: 8_000_000}
	variants := svc.Build(probe, StreamingOptions{Quality: QualityAuto, MaxBitrate: 1_000_000})

	assert.Equal(t, []string{"360p"}, variantLabelsOf(variants))
}

func TestLadderLowResSourceFallsBackToSourceVariant(t *testing.T) {
	svc := NewQualityLadderService()

	probe := MediaProbe{Width: 320, Height: 240, Bitrate: 500_000}
	variants := svc.Build(probe, StreamingOptions{Quality: QualityAuto})

	require.Len(t, variants, 1)
	assert.Equal(t, 320, variants[0].Width)
	assert.Equal(t, 240, variants[0].Height)
	assert.Equal(t, int64(500_000), variants[0].VideoBitrate)
}

func TestLadderNeverEmptyUnderTightConstraints(t *testing.T) {
	svc := NewQualityLadderService()

	probe := MediaProbe{Width: 1920, Height: 1080, Bitrate: 8_000_000}
	variants := svc.Build(probe, StreamingOptions{Quality: QualityAuto, MaxHeight: 100})

	require.Len(t, variants, 1)
	assert.Equal(t, probe.Height, variants[0].Height)
}
