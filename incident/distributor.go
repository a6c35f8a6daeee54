package incident

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/urgencias-sim/urgencias-sim/sim"
)

// Scoring weights. Lower scores are better placements; saturation
// dominates, then distance, then the live consult wait, then free triage
// capacity.
const (
	weightDistance   = 0.30
	weightSaturation = 0.35
	weightWait       = 0.25
	weightFreeBoxes  = 0.10

	// distanceScaleKm maps incident distance onto [0,1]: 10 km or more
	// saturates the component.
	distanceScaleKm = 10.0

	// waitScaleMinutes maps the estimated consult wait onto [0,1]: two
	// hours or more saturates the component.
	waitScaleMinutes = 120.0

	// minShare is the normalized weight below which a hospital receives
	// no casualties at all.
	minShare = 0.1

	scoreEpsilon = 1e-4
)

// StatsSource supplies the latest stats snapshot per hospital. Hospitals
// missing from the map score as unloaded.
type StatsSource func() map[sim.HospitalID]sim.HospitalStats

// Distribution is the apportionment result.
type Distribution struct {
	IncidentID string
	Kind       string
	Location   *Location
	Total      int
	Counts     map[sim.HospitalID]int

	// Analysis carries one human-readable line per hospital for the
	// dashboards.
	Analysis []string
}

// Message is the wire record published to incident-distribution. Field
// names follow the dashboards' contract.
type Message struct {
	TipoEmergencia string         `json:"tipoEmergencia"`
	Ubicacion      *Location      `json:"ubicacion,omitempty"`
	TotalPacientes int            `json:"totalPacientes"`
	Distribucion   map[string]int `json:"distribucion"`
	Analisis       []string       `json:"analisis"`
}

// Payload converts the distribution to its wire shape.
func (d Distribution) Payload() Message {
	return Message{
		TipoEmergencia: d.Kind,
		Ubicacion:      d.Location,
		TotalPacientes: d.Total,
		Distribucion:   lo.MapKeys(d.Counts, func(_ int, id sim.HospitalID) string { return string(id) }),
		Analisis:       d.Analysis,
	}
}

// Distributor scores the network's hospitals for casualty placement.
type Distributor struct {
	catalog *sim.Catalog
	stats   StatsSource
}

// NewDistributor builds a distributor over the catalogue and a live
// stats source. stats may be nil: every hospital then scores as
// unloaded.
func NewDistributor(catalog *sim.Catalog, stats StatsSource) *Distributor {
	if stats == nil {
		stats = func() map[sim.HospitalID]sim.HospitalStats { return nil }
	}
	return &Distributor{catalog: catalog, stats: stats}
}

// score computes one hospital's placement score from four normalized
// components; lower is better.
func (d *Distributor) score(h sim.HospitalConfig, stats sim.HospitalStats, loc *Location) float64 {
	distNorm := 0.5
	if loc != nil {
		distNorm = math.Min(1, haversineKm(h.Lat, h.Lon, loc.Lat, loc.Lon)/distanceScaleKm)
	}

	waitNorm := math.Min(1, stats.RollingMeanWaits.ConsultWait/waitScaleMinutes)

	freeBoxes := 1.0
	if stats.TriageBoxesTotal > 0 {
		freeBoxes = float64(stats.TriageBoxesTotal-stats.TriageBoxesBusy) / float64(stats.TriageBoxesTotal)
	}

	return weightDistance*distNorm +
		weightSaturation*stats.GlobalSaturation +
		weightWait*waitNorm +
		weightFreeBoxes*(1-freeBoxes)
}

// Distribute apportions the incident's casualties. Scores are inverted
// into weights so the least loaded, closest hospitals absorb the most;
// the largest weight takes the rounding remainder, and a hospital whose
// normalized share does not exceed 0.1 receives nothing. Equal scores
// split the total evenly.
func (d *Distributor) Distribute(inc Incident) Distribution {
	hospitals := d.catalog.Hospitals
	live := d.stats()

	scores := make([]float64, len(hospitals))
	for i, h := range hospitals {
		scores[i] = d.score(h, live[h.ID], inc.Location)
	}

	dist := Distribution{
		IncidentID: inc.IncidentID,
		Kind:       inc.Kind,
		Location:   inc.Location,
		Total:      inc.TotalPatients,
		Counts:     make(map[sim.HospitalID]int, len(hospitals)),
	}

	if allEqual(scores) {
		d.splitEvenly(&dist, hospitals)
		return dist
	}

	// Invert: weight = (maxScore + ε) − score, then normalize.
	maxScore := lo.Max(scores)
	weights := lo.Map(scores, func(s float64, _ int) float64 { return maxScore + scoreEpsilon - s })
	sum := lo.Sum(weights)

	largest := 0
	shares := make([]float64, len(hospitals))
	for i := range hospitals {
		shares[i] = weights[i] / sum
		if shares[i] > shares[largest] {
			largest = i
		}
	}

	assigned := 0
	for i, h := range hospitals {
		count := 0
		if shares[i] > minShare {
			count = int(math.Round(shares[i] * float64(inc.TotalPatients)))
			if count < 1 {
				count = 1
			}
		}
		dist.Counts[h.ID] = count
		assigned += count
	}

	// The largest share absorbs the rounding remainder, never below zero.
	remainder := inc.TotalPatients - assigned
	id := hospitals[largest].ID
	if dist.Counts[id]+remainder < 0 {
		remainder = -dist.Counts[id]
	}
	dist.Counts[id] += remainder

	for i, h := range hospitals {
		dist.Analysis = append(dist.Analysis, fmt.Sprintf(
			"%s: score %.3f, share %.0f%%, %d casualties (saturation %.0f%%)",
			h.ID, scores[i], shares[i]*100, dist.Counts[h.ID], live[h.ID].GlobalSaturation*100))
	}
	return dist
}

// splitEvenly covers the degenerate all-equal case; the remainder goes
// to the first hospitals in catalogue order.
func (d *Distributor) splitEvenly(dist *Distribution, hospitals []sim.HospitalConfig) {
	n := len(hospitals)
	if n == 0 {
		return
	}
	each := dist.Total / n
	extra := dist.Total % n
	for i, h := range hospitals {
		count := each
		if i < extra {
			count++
		}
		dist.Counts[h.ID] = count
		dist.Analysis = append(dist.Analysis, fmt.Sprintf("%s: even split, %d casualties", h.ID, count))
	}
}

func allEqual(scores []float64) bool {
	for _, s := range scores[1:] {
		if math.Abs(s-scores[0]) > 1e-12 {
			return false
		}
	}
	return true
}

// haversineKm is the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
