package meter

import (
	"github.com/DMartelly/amridm2mqtt/internal/config"
)

// Shape is the record shape of one decoded line.
type Shape int

const (
	Unknown Shape = iota
	Water
	Gas
)

func (s Shape) String() string {
	switch s {
	case Water:
		return "water"
	case Gas:
		return "gas"
	default:
		return "unknown"
	}
}

// The decoder prints the meter id at the same position for every message
// type, so classification does not depend on the shape.
const (
	idIndex         = 3
	waterFieldCount = 11
	gasFieldCount   = 9
)

// MeterID returns the identifier field of a split line, or "" when the line
// is too short to carry one.
func MeterID(fields []string) string {
	if len(fields) <= idIndex {
		return ""
	}
	return fields[idIndex]
}

// Classify tags a split decoder line as a water record (11 fields), a gas
// record (9 fields) or unknown. Field count is checked before membership in
// the watched set. Lines shorter than 4 fields never panic, they classify
// as Unknown.
func Classify(fields []string, watched config.WatchedMeters) Shape {
	id := MeterID(fields)
	if id == "" {
		return Unknown
	}
	switch len(fields) {
	case waterFieldCount:
		if watched.Contains(id) {
			return Water
		}
	case gasFieldCount:
		if watched.Contains(id) {
			return Gas
		}
	}
	return Unknown
}
