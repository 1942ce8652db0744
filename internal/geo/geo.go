package geo

import (
	"math"
	"sort"

	"github.com/google/uuid"
)

const earthRadiusKm = 6371

type Point struct {
	Lat float64
	Lng float64
}

// DoctorLocation is one entry of the availability snapshot the index runs over.
type DoctorLocation struct {
	DoctorID        uuid.UUID
	Location        Point
	Available       bool
	ServiceRadiusKm float64
}

type Candidate struct {
	DoctorID   uuid.UUID
	DistanceKm float64
}

// Distance returns the great-circle distance between two points in kilometers,
// using the haversine formula.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// FindCandidates filters the snapshot to available doctors within both the
// search radius and their own service radius, ordered by ascending distance.
// Ties are broken by doctor ID so the ordering is deterministic.
func FindCandidates(origin Point, maxRadiusKm float64, snapshot []DoctorLocation) []Candidate {
	candidates := make([]Candidate, 0, len(snapshot))

	for _, d := range snapshot {
		if !d.Available {
			continue
		}
		dist := Distance(origin, d.Location)
		limit := maxRadiusKm
		if d.ServiceRadiusKm > 0 && d.ServiceRadiusKm < limit {
			limit = d.ServiceRadiusKm
		}
		if dist > limit {
			continue
		}
		candidates = append(candidates, Candidate{DoctorID: d.DoctorID, DistanceKm: dist})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DistanceKm != candidates[j].DistanceKm {
			return candidates[i].DistanceKm < candidates[j].DistanceKm
		}
		return candidates[i].DoctorID.String() < candidates[j].DoctorID.String()
	})

	return candidates
}
