package interfaces

// IVoicePacketSender hands finished outbound voice packets to the network
// layer. Implementations must not retain packet after returning.
type IVoicePacketSender interface {
	// SendVoicePacket transmits one client-to-server voice packet
	SendVoicePacket(packet []byte) error
}

// IVoicePacketReceiver accepts inbound voice packets from the network layer.
type IVoicePacketReceiver interface {
	// HandleVoiceData processes one server-to-client voice packet
	HandleVoiceData(packet []byte) error
}

// VoicePacketSenderFunc adapts a function to IVoicePacketSender.
type VoicePacketSenderFunc func(packet []byte) error

// SendVoicePacket calls f(packet).
func (f VoicePacketSenderFunc) SendVoicePacket(packet []byte) error {
	return f(packet)
}

// VoiceTransportConfig holds configuration for voice packet transports.
type VoiceTransportConfig struct {
	// UseSimulation selects the in-process loopback instead of a real network
	UseSimulation bool

	// LoopbackSession is the session id stamped on looped-back packets
	LoopbackSession uint32

	// DropRate is the fraction of packets a simulation discards (0.0 to 1.0)
	DropRate float64

	// ReorderRate is the fraction of packets a simulation delays by one slot
	ReorderRate float64
}
