package testing

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicepipe/av/packet"
	"github.com/opd-ai/voicepipe/interfaces"
)

// Outcome is what the simulation did with one packet.
type Outcome int

const (
	// Delivered means the packet reached the receiver in order.
	Delivered Outcome = iota
	// Dropped means the packet was discarded.
	Dropped
	// Reordered means the packet reached the receiver after its successor.
	Reordered
	// Rejected means the receiver returned an error.
	Rejected
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Dropped:
		return "dropped"
	case Reordered:
		return "reordered"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// DeliveryRecord is one entry of the delivery log.
type DeliveryRecord struct {
	Sequence   int64
	PacketSize int
	Timestamp  int64
	Outcome    Outcome
	Error      error
}

// NetworkStats summarizes the delivery log.
type NetworkStats struct {
	Sent      int
	Delivered int
	Dropped   int
	Reordered int
	Rejected  int
}

// SimulatedNetwork loops outbound voice packets back as inbound packets
// from a fixed session, with optional loss and reordering.
type SimulatedNetwork struct {
	config   interfaces.VoiceTransportConfig
	receiver interfaces.IVoicePacketReceiver

	mu          sync.Mutex
	rng         *rand.Rand
	held        *heldPacket
	deliveryLog []DeliveryRecord
}

type heldPacket struct {
	data     []byte
	sequence int64
}

// NewSimulatedNetwork creates a simulation delivering to receiver. The seed
// fixes the loss and reorder pattern.
func NewSimulatedNetwork(config interfaces.VoiceTransportConfig, receiver interfaces.IVoicePacketReceiver, seed uint64) *SimulatedNetwork {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")
	logrus.WithFields(logrus.Fields{
		"function":     "NewSimulatedNetwork",
		"session":      config.LoopbackSession,
		"drop_rate":    config.DropRate,
		"reorder_rate": config.ReorderRate,
	}).Info("Creating simulated voice network")

	return &SimulatedNetwork{
		config:   config,
		receiver: receiver,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// IsSimulation reports true.
func (s *SimulatedNetwork) IsSimulation() bool {
	return true
}

// SendVoicePacket implements interfaces.IVoicePacketSender. Only malformed
// outbound packets fail; receiver errors are recorded in the log.
func (s *SimulatedNetwork) SendVoicePacket(outbound []byte) error {
	inbound, err := packet.Relay(outbound, s.config.LoopbackSession)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedNetwork.SendVoicePacket",
			"error":    err.Error(),
		}).Warn("Rejected malformed outbound packet")
		return err
	}
	vp, err := packet.ParseInbound(inbound)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch roll := s.rng.Float64(); {
	case roll < s.config.DropRate:
		s.record(vp.Sequence, len(inbound), Dropped, nil)
		return nil
	case s.held == nil && roll < s.config.DropRate+s.config.ReorderRate:
		s.held = &heldPacket{data: inbound, sequence: vp.Sequence}
		return nil
	}

	s.deliverLocked(inbound, vp.Sequence, Delivered)
	if h := s.held; h != nil {
		s.held = nil
		s.deliverLocked(h.data, h.sequence, Reordered)
	}
	return nil
}

// Flush delivers a packet still held for reordering.
func (s *SimulatedNetwork) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h := s.held; h != nil {
		s.held = nil
		s.deliverLocked(h.data, h.sequence, Reordered)
	}
}

func (s *SimulatedNetwork) deliverLocked(data []byte, sequence int64, outcome Outcome) {
	if err := s.receiver.HandleVoiceData(data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedNetwork.deliver",
			"sequence": sequence,
			"error":    err.Error(),
		}).Debug("Receiver rejected packet")
		s.record(sequence, len(data), Rejected, err)
		return
	}
	s.record(sequence, len(data), outcome, nil)
}

func (s *SimulatedNetwork) record(sequence int64, size int, outcome Outcome, err error) {
	s.deliveryLog = append(s.deliveryLog, DeliveryRecord{
		Sequence:   sequence,
		PacketSize: size,
		Timestamp:  time.Now().UnixNano(),
		Outcome:    outcome,
		Error:      err,
	})
}

// DeliveryLog returns a copy of the delivery log.
func (s *SimulatedNetwork) DeliveryLog() []DeliveryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeliveryRecord(nil), s.deliveryLog...)
}

// ClearDeliveryLog empties the delivery log.
func (s *SimulatedNetwork) ClearDeliveryLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveryLog = nil
}

// Stats counts the delivery log by outcome.
func (s *SimulatedNetwork) Stats() NetworkStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st NetworkStats
	for _, r := range s.deliveryLog {
		st.Sent++
		switch r.Outcome {
		case Delivered:
			st.Delivered++
		case Dropped:
			st.Dropped++
		case Reordered:
			st.Reordered++
		case Rejected:
			st.Rejected++
		}
	}
	return st
}
