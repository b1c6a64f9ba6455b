// Package polyline implements the encoded polyline format used by routing
// providers: per-axis signed deltas, zig-zag encoded, written as 5-bit
// groups offset by 63, at 1e-5 degree precision.
package polyline

import (
	"fmt"
	"math"
	"strings"

	"github.com/example/ride-matching/internal/apperr"
	"github.com/example/ride-matching/internal/models"
)

const (
	precision = 1e5
	offset    = 63
	moreBit   = 0x20
	groupMask = 0x1f
	// a 64-bit value needs at most 13 groups
	maxShift = 60
)

// Decode returns the points of encoded in order. Positions accumulate left
// to right, so the whole string is always consumed.
func Decode(encoded string) (models.Path, error) {
	path := make(models.Path, 0, len(encoded)/4)
	var lat, lng int64
	for i := 0; i < len(encoded); {
		dlat, next, err := decodeValue(encoded, i)
		if err != nil {
			return nil, err
		}
		dlng, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		i = next
		lat += dlat
		lng += dlng
		path = append(path, models.Coord{Lat: float64(lat) / precision, Lon: float64(lng) / precision})
	}
	return path, nil
}

func decodeValue(s string, i int) (int64, int, error) {
	var result int64
	shift := uint(0)
	for {
		if i >= len(s) {
			return 0, i, malformed(i, "input ends inside a codeword")
		}
		b := int64(s[i]) - offset
		if b < 0 || b > 0x3f {
			return 0, i, malformed(i, fmt.Sprintf("invalid character %q", s[i]))
		}
		i++
		result |= (b & groupMask) << shift
		if b < moreBit {
			break
		}
		shift += 5
		if shift > maxShift {
			return 0, i, malformed(i, "codeword too long")
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), i, nil
	}
	return result >> 1, i, nil
}

func malformed(at int, reason string) error {
	return apperr.Wrap(apperr.ErrMalformedPolyline, fmt.Errorf("offset %d: %s", at, reason))
}

// Encode is the inverse of Decode for points rounded to 1e-5 degrees.
func Encode(path models.Path) string {
	var b strings.Builder
	b.Grow(len(path) * 8)
	var prevLat, prevLng int64
	for _, p := range path {
		lat := int64(math.Round(p.Lat * precision))
		lng := int64(math.Round(p.Lon * precision))
		encodeValue(&b, lat-prevLat)
		encodeValue(&b, lng-prevLng)
		prevLat, prevLng = lat, lng
	}
	return b.String()
}

func encodeValue(b *strings.Builder, v int64) {
	u := uint64(v) << 1
	if v < 0 {
		u = ^u
	}
	for u >= moreBit {
		b.WriteByte(byte(moreBit|(u&groupMask)) + offset)
		u >>= 5
	}
	b.WriteByte(byte(u) + offset)
}
