package codec

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicepipe/av"
	"github.com/opd-ai/voicepipe/av/packet"
)

// Backend selects the Opus decoder implementation.
type Backend string

const (
	// BackendLibopus decodes with libopus and uses its loss concealment.
	BackendLibopus Backend = "libopus"
	// BackendPure decodes with the pure-Go pion/opus decoder.
	BackendPure Backend = "pure"
)

// ParseBackend validates a backend name. An empty name selects libopus.
func ParseBackend(name string) (Backend, error) {
	switch Backend(name) {
	case "", BackendLibopus:
		return BackendLibopus, nil
	case BackendPure:
		return BackendPure, nil
	}
	return "", fmt.Errorf("unknown opus backend %q", name)
}

// Factory builds decoders and encoders for the av pipeline. Only Opus is
// supported; CELT and Speex have no Go implementation.
type Factory struct {
	Backend Backend
}

// NewDecoder implements av.DecoderFactory.
func (f Factory) NewDecoder(codec packet.Codec) (av.Decoder, error) {
	if codec != packet.CodecOpus {
		return nil, fmt.Errorf("%w: %s", av.ErrUnsupportedCodec, codec)
	}
	switch f.Backend {
	case BackendPure:
		return NewPureDecoder(), nil
	case "", BackendLibopus:
		dec, err := NewLibopusDecoder()
		if err != nil {
			return nil, err
		}
		return dec, nil
	}
	return nil, fmt.Errorf("unknown opus backend %q", f.Backend)
}

// NewEncoder implements av.EncoderFactory.
func (f Factory) NewEncoder(codec packet.Codec, params av.EncoderParams) (av.Encoder, error) {
	if codec != packet.CodecOpus {
		logrus.WithFields(logrus.Fields{
			"function": "Factory.NewEncoder",
			"codec":    codec.String(),
		}).Warn("No encoder for codec")
		return nil, fmt.Errorf("%w: %s", av.ErrUnsupportedCodec, codec)
	}
	enc, err := NewOpusEncoder(params)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// NewDecoder creates a decoder with the default backend.
func NewDecoder(codec packet.Codec) (av.Decoder, error) {
	return Factory{}.NewDecoder(codec)
}

// NewEncoder creates an encoder with the default backend.
func NewEncoder(codec packet.Codec, params av.EncoderParams) (av.Encoder, error) {
	return Factory{}.NewEncoder(codec, params)
}
