// Package testing provides an in-memory voice network for deterministic
// testing of the voicepipe pipeline.
//
// # Overview
//
// SimulatedNetwork stands in for the server that relays voice packets
// between clients. It accepts outbound packets from a CaptureEncoder,
// rewrites them to the inbound form with a fixed sender session and hands
// them to a receiver such as an av.Registry, so one process can hear its
// own voice without any network.
//
// # Impairments
//
// Loss and reordering are driven by a seeded random source so runs are
// reproducible:
//
//   - DropRate: fraction of packets discarded
//   - ReorderRate: fraction of packets held back and delivered after the
//     next one
//
// # Usage
//
//	net := testing.NewSimulatedNetwork(interfaces.VoiceTransportConfig{
//	    UseSimulation:   true,
//	    LoopbackSession: 7,
//	    DropRate:        0.05,
//	}, registry, 1)
//
//	capture, _ := av.NewCaptureEncoder(av.DefaultCaptureConfig(), codec.NewEncoder, net, events, nil)
//
// # Delivery Log
//
// Every packet is recorded as a DeliveryRecord with its sequence number,
// size, and outcome. Use DeliveryLog to inspect it and ClearDeliveryLog to
// reset between test cases.
//
// # Thread Safety
//
// All methods on SimulatedNetwork are safe for concurrent use.
package testing
