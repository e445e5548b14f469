// Package voicepipe implements the real-time voice pipeline of a
// group voice chat client.
//
// The pipeline has two halves. The playback half receives voice packets from
// many speakers, keeps one jitter-buffered decoder per speaker, decodes all
// speakers in parallel each 10ms tick and mixes them into a single output
// stream. The capture half reads the microphone, decides when the local user
// is talking, encodes 10ms frames into packets sized to the server's
// bandwidth limit and hands them to the transport.
//
// # Getting Started
//
// Devices, codecs and the transport are injected, so the handler runs the
// same way against real hardware and in tests:
//
//	handler, err := voicepipe.NewAudioHandler(voicepipe.DefaultOptions(), voicepipe.Dependencies{
//	    Decoders: factory.NewDecoder,
//	    Encoders: factory.NewEncoder,
//	    Sink:     device.OtoOpener{},
//	    Source:   source,
//	    Sender:   transport,
//	    Listener: func(ev av.TalkEvent) { fmt.Println(ev.Session, ev.State) },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer handler.Close()
//
//	// once the server has sent the session id and codec settings
//	err = handler.Initialize(voicepipe.Self{Session: session}, maxBandwidth, packet.CodecOpus)
//
// Inbound voice packets go to [AudioHandler.HandleVoiceData]. Server state
// messages go to [AudioHandler.HandleCodecVersion],
// [AudioHandler.HandleServerSync] and [AudioHandler.HandleUserState].
//
// # Packages
//
//   - av: speaker registry, jitter buffers, playback scheduler, capture encoder
//   - av/audio: mixing, gain, resampling, preprocessing effects and tones
//   - av/packet: the voice packet wire format
//   - av/codec: Opus encoder and decoders
//   - av/device: speaker and microphone backends
//   - config: YAML, .env and environment configuration
//   - testing: a simulated network that loops voice back for demos and tests
//
// # Thread Safety
//
// All [AudioHandler] methods are safe for concurrent use. Talk events are
// delivered on a single goroutine in the order they occur.
package voicepipe
