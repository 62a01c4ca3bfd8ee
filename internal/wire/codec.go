package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/straln/braidcore/internal/monitoring"
)

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: invalid cbor encode options: %v", err))
	}
	return m
}()

// Encode serializes a FeaturePacket to its CBOR wire form. Point lists
// longer than MaxPoints are truncated, and the discard count is logged;
// the caller still gets a valid, bounded-size packet back.
func Encode(p FeaturePacket) ([]byte, error) {
	if len(p.Points) > MaxPoints {
		discarded := len(p.Points) - MaxPoints
		monitoring.Logf("wire: truncating FeaturePacket for %s from %d to %d points (%d discarded)",
			p.CamName, len(p.Points), MaxPoints, discarded)
		truncated := make([]Point, MaxPoints)
		copy(truncated, p.Points[:MaxPoints])
		p.Points = truncated
	}

	b, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("wire: encode FeaturePacket: %w", err)
	}
	return b, nil
}

// Decode parses a FeaturePacket from its CBOR wire form.
func Decode(b []byte) (FeaturePacket, error) {
	var p FeaturePacket
	if err := cbor.Unmarshal(b, &p); err != nil {
		return FeaturePacket{}, fmt.Errorf("wire: decode FeaturePacket: %w", err)
	}
	return p, nil
}
