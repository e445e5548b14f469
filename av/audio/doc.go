// Package audio provides the sample-level processing used by the voice
// pipeline.
//
// # Playback
//
// Mixer sums the 16-bit PCM produced by every live speaker for one tick,
// saturating at the 16-bit limits, then applies the output gain:
//
//	mixer := audio.NewMixer(1.0)
//	if !mixer.Mix(buf, outputs) {
//	    // no speakers: nothing to play
//	}
//
// # Capture
//
// Microphone audio passes through gain staging (ApplyGain, clamped to
// [MinGain, MaxGain]), an optional preprocessing EffectChain built from
// NoiseSuppressionEffect and AutoGainEffect, and is re-cut to 10ms frames
// with FrameBuffer after sample rate conversion by Resampler.
//
// # Tones
//
// ToneSequence renders roger beeps and morse signatures for injection into
// the outgoing stream:
//
//	seq, _ := audio.ToneStyle("morse-k")
//	pcm := seq.Render(0.5)
package audio
