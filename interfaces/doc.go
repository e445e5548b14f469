// Package interfaces defines the boundary between the voice pipeline and the
// network layer that carries its packets.
//
// [IVoicePacketSender] receives every packet the capture path produces:
//
//	sender := interfaces.VoicePacketSenderFunc(func(p []byte) error {
//	    return conn.WriteVoice(p)
//	})
//
// [IVoicePacketReceiver] is implemented by the audio handler; the network
// layer calls it for every voice packet the server relays.
//
// The testing package provides a simulated network that sends packets
// straight back to a receiver, for loopback demos and tests.
package interfaces
