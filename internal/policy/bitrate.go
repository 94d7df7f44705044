package policy

const (
	MinBitrate = 3_000_000
	MaxBitrate = 60_000_000

	// userBitrateFloor is the value a user bitrate must exceed to override the estimate.
	userBitrateFloor = 1_000_000
)

var bitrateTiers = []struct {
	minPixels  int
	multiplier float64
}{
	{3840 * 2160, 0.15},
	{2560 * 1440, 0.13},
	{1920 * 1080, 0.10},
	{1280 * 720, 0.08},
	{0, 0.06},
}

// EstimateOptimalBitrate returns a bits-per-second estimate for the given
// geometry and frame rate, clamped to [MinBitrate, MaxBitrate].
func EstimateOptimalBitrate(width, height, frameRate int) int {
	pixels := width * height
	multiplier := bitrateTiers[len(bitrateTiers)-1].multiplier
	for _, tier := range bitrateTiers {
		if pixels >= tier.minPixels {
			multiplier = tier.multiplier
			break
		}
	}

	bps := float64(pixels) * multiplier * (float64(frameRate) / 30.0)
	switch {
	case bps < MinBitrate:
		return MinBitrate
	case bps > MaxBitrate:
		return MaxBitrate
	}
	return int(bps)
}

// EffectiveBitrate honours an explicit user bitrate and falls back to the estimate.
func EffectiveBitrate(userBitrate, width, height, frameRate int) int {
	if userBitrate > userBitrateFloor {
		return userBitrate
	}
	return EstimateOptimalBitrate(width, height, frameRate)
}
