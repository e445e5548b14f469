// Package av implements the real-time voice engine of a Mumble-style voice
// client.
//
// The engine is pure Go. Codecs and audio devices are consumed through the
// capability interfaces Decoder, Encoder, AudioSink and AudioSource, so the
// package has no cgo or platform dependencies; the adapters live in av/codec
// and av/device.
//
// # Architecture
//
// The receive side turns relayed voice packets into one mixed PCM stream:
//
//   - Registry: owns one SpeakerChannel per remote session and runs the
//     parallel decode phase of every playback tick
//   - SpeakerChannel: jitter buffer, decoder and talk state for one speaker
//   - OutputScheduler: the playback loop; pauses the sink while nobody speaks
//     and resumes when the registry accepts new voice
//
// The send side turns microphone frames into outbound voice packets:
//
//   - CaptureEncoder: talk detection, gain staging, preprocessing, encoding,
//     packet framing and audio injection
//   - InputMode: continuous, push-to-talk or voice activity transmission
//   - BandwidthController: fits bitrate and packing under the server's
//     bandwidth ceiling
//
// # Sub-Packages
//
//   - av/audio: mixing, gain, resampling, noise suppression, AGC and tones
//   - av/packet: voice packet wire format and the per-speaker jitter buffer
//   - av/codec: Opus decoder and encoder adapters
//   - av/device: speaker and microphone adapters
//
// # Playback
//
//	events := av.NewEventQueue(func(ev av.TalkEvent) {
//	    log.Printf("session %d is %s", ev.Session, ev.State)
//	})
//	registry := av.NewRegistry(av.DefaultRegistryConfig(), codec.NewDecoder, events, nil)
//	scheduler := av.NewOutputScheduler(registry, audio.NewMixer(1.0), sinks, av.FrameSize, nil)
//	if err := scheduler.Start(); err != nil {
//	    return err
//	}
//	defer scheduler.Stop()
//
//	// for every voice packet from the server
//	registry.HandleVoiceData(data)
//
// # Capture
//
//	capture, err := av.NewCaptureEncoder(av.DefaultCaptureConfig(), codec.NewEncoder, sender, events, nil)
//	capture.SetMaxBandwidth(maxBandwidth)
//	capture.SetCodec(packet.CodecOpus)
//	capture.StartCapture(microphone)
//
// # Timing
//
// Audio is 48kHz mono 16-bit PCM cut into 10ms frames of 480 samples.
// Sequence numbers count frames, so a packet carrying two frames advances
// the sequence by two.
//
// # Thread Safety
//
// Registry, OutputScheduler and CaptureEncoder are safe for concurrent use.
// Talk events are delivered in order on the EventQueue's own goroutine and
// never block the audio paths.
//
// # Error Handling
//
// Failures are classified by ErrorKind and can be inspected with KindOf:
// KindTransientSpeaker errors affect one speaker only, KindResourceInit
// errors mean a device or codec could not be opened, KindEncode aborts the
// current capture or injection, and KindInterrupted marks a wait cut short.
package av
