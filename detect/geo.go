package detect

import "strings"

// DistanceEstimator estimates the distance in kilometers between the
// network locations of two IP addresses. It exists as a named strategy
// so a real geolocation provider can replace the octet heuristic without
// touching rule orchestration.
type DistanceEstimator interface {
	EstimateKm(ip1, ip2 string) float64
}

// OctetDistanceEstimator is a geolocation placeholder, not real
// geolocation: it counts how many dotted segments differ between the two
// addresses and maps that count to a coarse distance bucket. Addresses
// sharing a /24 land within ~50km, sharing only a /8 around ~1000km, and
// fully distinct addresses at ~2500km. Non-IPv4 strings rarely split
// into four segments and therefore almost never cross the travel
// threshold.
type OctetDistanceEstimator struct{}

// octetDistanceKm maps the number of differing dotted segments to an
// estimated distance.
var octetDistanceKm = map[int]float64{0: 0, 1: 50, 2: 300, 3: 1000, 4: 2500}

func (OctetDistanceEstimator) EstimateKm(ip1, ip2 string) float64 {
	if ip1 == ip2 {
		return 0
	}

	parts1 := strings.Split(ip1, ".")
	parts2 := strings.Split(ip2, ".")

	n := len(parts1)
	if len(parts2) < n {
		n = len(parts2)
	}

	diffs := 0
	for i := 0; i < n; i++ {
		if parts1[i] != parts2[i] {
			diffs++
		}
	}

	if km, ok := octetDistanceKm[diffs]; ok {
		return km
	}
	return 2500
}
