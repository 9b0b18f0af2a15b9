package protocol

// Band is the discretized frequency category of a quanta sample. Storage
// samples carry a continuous frequency; display and summaries bucket it.
type Band int

const (
	BandInfrared Band = iota
	BandRed
	BandGreen
	BandBlue
	BandViolet
	BandUltraviolet

	BandCount = 6
)

var bandNames = [BandCount]string{
	"Infrared", "Red", "Green", "Blue", "Violet", "Ultraviolet",
}

func (b Band) String() string {
	if b < 0 || int(b) >= BandCount {
		return "Unknown"
	}
	return bandNames[b]
}

// BandFor buckets a continuous frequency into its band.
func BandFor(frequency float64) Band {
	switch {
	case frequency < 0.5:
		return BandInfrared
	case frequency < 1.3:
		return BandRed
	case frequency < 2.5:
		return BandGreen
	case frequency < 3.5:
		return BandBlue
	case frequency < 4.5:
		return BandViolet
	default:
		return BandUltraviolet
	}
}
