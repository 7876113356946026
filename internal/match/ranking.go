package match

import (
	"math"
	"sort"

	"github.com/fixline/backend/internal/domain"
)

// Composite score weights. Score history dominates, proximity second,
// responsiveness last.
const (
	scoreWeight    = 0.6
	distanceWeight = 0.3
	responseWeight = 0.1

	distanceHorizonKm  = 50.0
	responseHorizonMin = 30.0
)

// Candidate is an eligible provider with its distance and composite score.
type Candidate struct {
	Provider   domain.ProviderProfile `json:"provider"`
	DistanceKm float64                `json:"distance_km"`
	Score      float64                `json:"score"`
}

// CompositeScore combines internal score, proximity, and average response
// time into one 0..1 figure rounded to two decimals. A nil response average
// means no history and contributes a neutral 0.5.
func CompositeScore(internalScore, distanceKm float64, responseAvgMin *float64) float64 {
	scorePart := internalScore
	if scorePart < 0 {
		scorePart = 0
	}
	if scorePart > 100 {
		scorePart = 100
	}
	scorePart /= 100

	distPart := 1 - distanceKm/distanceHorizonKm
	if distPart < 0 {
		distPart = 0
	}

	respPart := 0.5
	if responseAvgMin != nil {
		r := *responseAvgMin
		if r < 0 {
			r = 0
		}
		if r > responseHorizonMin {
			r = responseHorizonMin
		}
		respPart = 1 - r/responseHorizonMin
	}

	raw := scoreWeight*scorePart + distanceWeight*distPart + responseWeight*respPart
	return math.Round(raw*100) / 100
}

// rank orders candidates best first. Equal scores resolve by distance, then
// by provider id so the ordering is stable across runs.
func rank(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		if cands[i].DistanceKm != cands[j].DistanceKm {
			return cands[i].DistanceKm < cands[j].DistanceKm
		}
		return cands[i].Provider.ID < cands[j].Provider.ID
	})
}
