package av

import (
	"github.com/sirupsen/logrus"
)

const (
	// Unconstrained is the max-bandwidth value meaning the server imposes
	// no ceiling.
	Unconstrained = -1
	// MinBitrate is the floor the controller never goes below.
	MinBitrate = 8000
	// BitrateStep is the decrement applied while searching for a bitrate
	// that fits the ceiling.
	BitrateStep = 1000
)

// AudioBandwidth returns the bits per second a voice stream uses on the
// wire: codec bitrate plus per-packet IP, UDP, crypto and voice header
// overhead at 100/framesPerPacket packets per second.
func AudioBandwidth(bitrate, framesPerPacket int) int {
	if framesPerPacket <= 0 {
		framesPerPacket = 1
	}
	overhead := 20 + 8 + 4 + 1 + 2 + 12 + framesPerPacket
	overhead *= 800 / framesPerPacket
	return overhead + bitrate
}

// BandwidthBudget is the encoder setting derived from a bandwidth ceiling.
type BandwidthBudget struct {
	MaxBandwidth    int
	Bitrate         int
	FramesPerPacket int
}

// Bandwidth returns the wire bandwidth the budget uses.
func (b BandwidthBudget) Bandwidth() int {
	return AudioBandwidth(b.Bitrate, b.FramesPerPacket)
}

// AdjustBandwidth fits (bitrate, framesPerPacket) under maxBandwidth.
//
// Packing widens first: up to 4 frames under a ceiling of 32kbps or less,
// 1 to 2 frames under 64kbps, 2 to 4 frames under 48kbps. Bitrate then
// drops in BitrateStep decrements until the stream fits or reaches
// MinBitrate. The result is never below MinBitrate, even if it still does
// not fit. An Unconstrained ceiling returns the inputs unchanged.
func AdjustBandwidth(bitrate, framesPerPacket, maxBandwidth int) (int, int) {
	if maxBandwidth == Unconstrained {
		return bitrate, framesPerPacket
	}

	if AudioBandwidth(bitrate, framesPerPacket) > maxBandwidth {
		switch {
		case framesPerPacket <= 4 && maxBandwidth <= 32000:
			framesPerPacket = 4
		case framesPerPacket == 1 && maxBandwidth <= 64000:
			framesPerPacket = 2
		case framesPerPacket == 2 && maxBandwidth <= 48000:
			framesPerPacket = 4
		}
		for AudioBandwidth(bitrate, framesPerPacket) > maxBandwidth && bitrate > MinBitrate {
			bitrate -= BitrateStep
		}
	}
	return max(MinBitrate, bitrate), framesPerPacket
}

// BandwidthController tracks the configured encoder targets and the budget
// derived from the latest server ceiling. It is not safe for concurrent
// use; the capture path serializes access.
type BandwidthController struct {
	targetBitrate int
	targetFPP     int
	budget        BandwidthBudget
}

// NewBandwidthController starts unconstrained at the configured targets.
func NewBandwidthController(bitrate, framesPerPacket int) *BandwidthController {
	return &BandwidthController{
		targetBitrate: bitrate,
		targetFPP:     framesPerPacket,
		budget: BandwidthBudget{
			MaxBandwidth:    Unconstrained,
			Bitrate:         bitrate,
			FramesPerPacket: framesPerPacket,
		},
	}
}

// SetMaxBandwidth derives a new budget from the configured targets and
// reports whether the encoder settings changed.
func (c *BandwidthController) SetMaxBandwidth(maxBandwidth int) (BandwidthBudget, bool) {
	bitrate, fpp := AdjustBandwidth(c.targetBitrate, c.targetFPP, maxBandwidth)
	prev := c.budget
	c.budget = BandwidthBudget{MaxBandwidth: maxBandwidth, Bitrate: bitrate, FramesPerPacket: fpp}
	changed := bitrate != prev.Bitrate || fpp != prev.FramesPerPacket

	if changed {
		logrus.WithFields(logrus.Fields{
			"function":          "BandwidthController.SetMaxBandwidth",
			"max_bandwidth":     maxBandwidth,
			"bitrate":           bitrate,
			"frames_per_packet": fpp,
			"frame_ms":          fpp * 10,
		}).Info("Adjusted encoder to bandwidth ceiling")
	}
	return c.budget, changed
}

// Budget returns the current budget.
func (c *BandwidthController) Budget() BandwidthBudget {
	return c.budget
}
