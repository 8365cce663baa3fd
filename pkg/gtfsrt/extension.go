package gtfsrt

import (
	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protowire"
)

// vendorDelayField is the extension field number the feed operator uses
// to attach a per-vehicle delay (signed seconds) to VehiclePosition.
// The stock bindings don't know the extension, so the value survives
// decoding only in the message's unknown-field buffer.
const vendorDelayField = 1003

// vendorDelay extracts the vendor delay extension from a decoded
// VehiclePosition. Returns 0 when the extension is absent or the
// unknown-field buffer is malformed.
func vendorDelay(vp *gtfsrtpb.VehiclePosition) int {
	b := vp.ProtoReflect().GetUnknown()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0
		}
		b = b[n:]

		if num == vendorDelayField && typ == protowire.VarintType {
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return 0
			}
			return int(int32(v))
		}

		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return 0
		}
		b = b[m:]
	}
	return 0
}
