package delivery

import (
	"regexp"
	"strings"
)

// Bounds enforced on delivery arguments.
const (
	MaxPackageWeightKg = 1000.0
	MaxDimensionCm     = 500.0
	MaxLocationLen     = 100
	MaxReasonLen       = 1000
)

// deliveryIDPattern is the canonical id shape: DEL-YYYYMMDD-XXXXXXXX with
// eight hex characters. Lowercase hex is tolerated on input and
// canonicalized to uppercase before keying.
var deliveryIDPattern = regexp.MustCompile(`^DEL-\d{8}-[0-9A-Fa-f]{8}$`)

// canonicalDeliveryID validates the id shape and returns the canonical
// uppercase form used as the world-state key.
func canonicalDeliveryID(deliveryID string) (string, error) {
	if !deliveryIDPattern.MatchString(deliveryID) {
		return "", Errorf(KindInvalidArgument, "delivery id %q does not match DEL-YYYYMMDD-XXXXXXXX", deliveryID)
	}
	return strings.ToUpper(deliveryID), nil
}

// validatePackage checks weight and dimension bounds.
func validatePackage(weight float64, dims PackageDimensions) error {
	if weight <= 0 || weight > MaxPackageWeightKg {
		return Errorf(KindInvalidArgument, "package weight must be in (0, %.0f] kg, got %v", MaxPackageWeightKg, weight)
	}
	for _, d := range []struct {
		name  string
		value float64
	}{
		{"length", dims.Length},
		{"width", dims.Width},
		{"height", dims.Height},
	} {
		if d.value <= 0 || d.value > MaxDimensionCm {
			return Errorf(KindInvalidArgument, "package %s must be in (0, %.0f] cm, got %v", d.name, MaxDimensionCm, d.value)
		}
	}
	return nil
}

// validateLocation checks that every location field is non-empty and
// within the length cap.
func validateLocation(loc Location) error {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"city", loc.City},
		{"state", loc.State},
		{"country", loc.Country},
	} {
		if f.value == "" {
			return Errorf(KindInvalidArgument, "location %s must not be empty", f.name)
		}
		if len(f.value) > MaxLocationLen {
			return Errorf(KindInvalidArgument, "location %s exceeds %d characters", f.name, MaxLocationLen)
		}
	}
	return nil
}
