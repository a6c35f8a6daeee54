package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/urgencias-sim/urgencias-sim/bus"
	"github.com/urgencias-sim/urgencias-sim/sim"
)

// ConsumerGroup is the predictor's bus consumer group.
const ConsumerGroup = "predictor"

// AnomalyThreshold is the |z| past which an observed hour raises an
// alert.
const AnomalyThreshold = 2.0

// DefaultRetrainInterval applies when no cadence is configured.
const DefaultRetrainInterval = 24 * time.Minute

// Scenario flags multiply a forecast by fixed what-if factors.
type Scenario struct {
	Rain          bool `json:"rain"`
	MassEvent     bool `json:"massEvent"`
	ExtremeTemp   bool `json:"extremeTemp"`
	FootballMatch bool `json:"footballMatch"`
}

// Scenario what-if multipliers.
const (
	factorRain        = 1.12
	factorMassEvent   = 1.25
	factorExtremeTemp = 1.18
	factorFootball    = 1.15
)

// Factor is the combined scenario multiplier.
func (s Scenario) Factor() float64 {
	f := 1.0
	if s.Rain {
		f *= factorRain
	}
	if s.MassEvent {
		f *= factorMassEvent
	}
	if s.ExtremeTemp {
		f *= factorExtremeTemp
	}
	if s.FootballMatch {
		f *= factorFootball
	}
	return f
}

func (s Scenario) cacheKey() string {
	return fmt.Sprintf("%t%t%t%t", s.Rain, s.MassEvent, s.ExtremeTemp, s.FootballMatch)
}

// Prediction is one forecast hour for one hospital.
type Prediction struct {
	HospitalID     sim.HospitalID
	Hour           time.Time
	Expected       float64
	Lower          float64
	Upper          float64
	ScenarioFactor float64
}

// AnomalyAlert is the wire record published to prediction-alerts.
type AnomalyAlert struct {
	HospitalID sim.HospitalID `json:"hospitalId"`
	Hour       bus.UTCTime    `json:"hour"`
	Observed   int            `json:"observed"`
	Expected   float64        `json:"expected"`
	ZScore     float64        `json:"zscore"`
	Message    string         `json:"message"`
	Timestamp  bus.UTCTime    `json:"timestamp"`
}

// updatePoint and PredictionUpdate are the wire shape of
// prediction-updates.
type updatePoint struct {
	Hour             bus.UTCTime `json:"hour"`
	ExpectedArrivals float64     `json:"expectedArrivals"`
	Lower            float64     `json:"lower"`
	Upper            float64     `json:"upper"`
	ScenarioFactor   float64     `json:"scenarioFactor"`
}

type PredictionUpdate struct {
	HospitalID   sim.HospitalID `json:"hospitalId"`
	GeneratedAt  bus.UTCTime    `json:"generatedAt"`
	HorizonHours int            `json:"horizonHours"`
	Points       []updatePoint  `json:"points"`
}

// hospitalModel pairs a hospital's forecaster with its degraded-mode
// bookkeeping.
type hospitalModel struct {
	forecaster Forecaster
	fallback   bool
}

// hourBucket accumulates one hospital's arrivals for the hour being
// observed.
type hourBucket struct {
	hour  time.Time
	count int
}

// Predictor is the demand-prediction service: lazily trained per-hospital
// models, cached forecasts, periodic retraining and arrival anomaly
// detection over the patient-arrivals stream.
//
// Thread-safety: safe for concurrent use; the consumer goroutine, the
// retrain cron and Predict callers share the model table under one lock.
// Training happens outside the lock so producers never wait on a fit.
type Predictor struct {
	catalog *sim.Catalog
	pub     sim.Publisher
	retrain time.Duration

	// now anchors forecasts and alert timestamps; tests pin it.
	now func() time.Time

	mu      sync.Mutex
	models  map[sim.HospitalID]*hospitalModel
	buckets map[sim.HospitalID]*hourBucket
	alerted map[string]bool
	warned  map[sim.HospitalID]bool
	cache   *gocache.Cache
}

// New builds the predictor. pub may be nil to discard publications;
// retrain <= 0 selects the default cadence.
func New(catalog *sim.Catalog, pub sim.Publisher, retrain time.Duration) *Predictor {
	if pub == nil {
		pub = sim.NopPublisher{}
	}
	if retrain <= 0 {
		retrain = DefaultRetrainInterval
	}
	return &Predictor{
		catalog: catalog,
		pub:     pub,
		retrain: retrain,
		now:     time.Now,
		models:  make(map[sim.HospitalID]*hospitalModel),
		buckets: make(map[sim.HospitalID]*hourBucket),
		alerted: make(map[string]bool),
		warned:  make(map[sim.HospitalID]bool),
		cache:   gocache.New(retrain, 2*retrain),
	}
}

// SetNow pins the service clock (tests, replaying history).
func (p *Predictor) SetNow(now func() time.Time) { p.now = now }

// model returns the hospital's forecaster, training it on first use.
func (p *Predictor) model(id sim.HospitalID) (*hospitalModel, error) {
	p.mu.Lock()
	if m, ok := p.models[id]; ok {
		p.mu.Unlock()
		return m, nil
	}
	p.mu.Unlock()

	cfg, err := p.catalog.Get(id)
	if err != nil {
		return nil, err
	}
	m := p.train(cfg)

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.models[id]; ok {
		return existing, nil // lost the training race; use the winner
	}
	p.models[id] = m
	return m, nil
}

// train fits a fresh Holt-Winters model on the hospital's synthetic
// history, falling back to the profile forecaster when the fit cannot
// serve.
func (p *Predictor) train(cfg sim.HospitalConfig) *hospitalModel {
	hw := NewHoltWinters()
	history := SyntheticHistory(cfg, p.catalog.Factors, HistoryDays, p.now())
	if err := hw.Fit(history); err != nil {
		p.mu.Lock()
		firstTime := !p.warned[cfg.ID]
		p.warned[cfg.ID] = true
		p.mu.Unlock()
		if firstTime {
			logrus.Warnf("predictor: %s: advanced forecaster unavailable, using profile fallback: %v", cfg.ID, err)
		}
		return &hospitalModel{forecaster: NewProfileForecaster(cfg, p.catalog.Factors), fallback: true}
	}
	logrus.Infof("predictor: trained %s on %d days of history", cfg.ID, HistoryDays)
	return &hospitalModel{forecaster: hw}
}

// Retrain refits every hospital's model, flushes the forecast cache and
// publishes a fresh 24-hour prediction snapshot per hospital.
func (p *Predictor) Retrain() {
	for _, cfg := range p.catalog.Hospitals {
		m := p.train(cfg)
		p.mu.Lock()
		p.models[cfg.ID] = m
		p.mu.Unlock()
	}
	p.cache.Flush()
	for _, cfg := range p.catalog.Hospitals {
		p.publishUpdate(cfg.ID)
	}
	retrainsTotal.Inc()
}

// Predict forecasts a hospital's arrivals for the coming horizon,
// optionally under a what-if scenario. Results are memoized until the
// next retrain.
func (p *Predictor) Predict(id sim.HospitalID, horizonHours int, scenario Scenario) ([]Prediction, error) {
	if horizonHours <= 0 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizonHours)
	}
	key := fmt.Sprintf("%s|%d|%s", id, horizonHours, scenario.cacheKey())
	if cached, ok := p.cache.Get(key); ok {
		return cached.([]Prediction), nil
	}

	m, err := p.model(id)
	if err != nil {
		return nil, err
	}
	factor := scenario.Factor()
	points := m.forecaster.Forecast(p.now(), horizonHours)
	out := make([]Prediction, 0, len(points))
	for _, pt := range points {
		out = append(out, Prediction{
			HospitalID:     id,
			Hour:           pt.Hour,
			Expected:       pt.Expected * factor,
			Lower:          pt.Lower * factor,
			Upper:          pt.Upper * factor,
			ScenarioFactor: factor,
		})
	}
	p.cache.Set(key, out, gocache.DefaultExpiration)
	return out, nil
}

// Observe checks one completed hour against the forecast. An |z| above
// the threshold raises an anomaly, at most once per (hospital, hour).
func (p *Predictor) Observe(id sim.HospitalID, hour time.Time, count int) (AnomalyAlert, bool) {
	m, err := p.model(id)
	if err != nil {
		logrus.Warnf("predictor: observe %s: %v", id, err)
		return AnomalyAlert{}, false
	}
	hour = hour.UTC().Truncate(time.Hour)

	points := m.forecaster.Forecast(hour, 1)
	if len(points) == 0 {
		return AnomalyAlert{}, false
	}
	expected := points[0].Expected
	halfWidth := (points[0].Upper - points[0].Lower) / 2
	z := (float64(count) - expected) / math.Max(halfWidth/2, 0.1)
	if math.Abs(z) <= AnomalyThreshold {
		return AnomalyAlert{}, false
	}

	key := fmt.Sprintf("%s|%s", id, hour.Format(time.RFC3339))
	p.mu.Lock()
	if p.alerted[key] {
		p.mu.Unlock()
		return AnomalyAlert{}, false
	}
	p.alerted[key] = true
	p.mu.Unlock()

	direction := "above"
	if z < 0 {
		direction = "below"
	}
	return AnomalyAlert{
		HospitalID: id,
		Hour:       bus.NewUTCTime(hour),
		Observed:   count,
		Expected:   expected,
		ZScore:     z,
		Message: fmt.Sprintf("%s: %d arrivals at %s, %.1f expected (z=%.1f, %s forecast)",
			id, count, hour.Format("15:04"), expected, z, direction),
		Timestamp: bus.NewUTCTime(p.now()),
	}, true
}

// publishUpdate emits a 24-hour baseline forecast snapshot.
func (p *Predictor) publishUpdate(id sim.HospitalID) {
	predictions, err := p.Predict(id, 24, Scenario{})
	if err != nil {
		logrus.Warnf("predictor: snapshot for %s: %v", id, err)
		return
	}
	update := PredictionUpdate{
		HospitalID:   id,
		GeneratedAt:  bus.NewUTCTime(p.now()),
		HorizonHours: len(predictions),
	}
	for _, pr := range predictions {
		update.Points = append(update.Points, updatePoint{
			Hour:             bus.NewUTCTime(pr.Hour),
			ExpectedArrivals: pr.Expected,
			Lower:            pr.Lower,
			Upper:            pr.Upper,
			ScenarioFactor:   pr.ScenarioFactor,
		})
	}
	p.pub.Publish(bus.TopicPredictionUpdates, string(id), update)
}

// ingest buckets one arrival by simulated hour; crossing into a later
// hour closes the previous bucket and runs the anomaly check on it.
func (p *Predictor) ingest(arr sim.PatientArrival) {
	hour := arr.ArrivalWallTime.UTC().Truncate(time.Hour)

	p.mu.Lock()
	bucket, ok := p.buckets[arr.HospitalID]
	if !ok || bucket.hour.Before(hour) {
		p.buckets[arr.HospitalID] = &hourBucket{hour: hour, count: 1}
		p.mu.Unlock()
		if ok {
			p.observeClosed(arr.HospitalID, *bucket)
		}
		return
	}
	if bucket.hour.Equal(hour) {
		bucket.count++
	}
	// Arrivals for an already-closed hour are dropped: the bucket moved on.
	p.mu.Unlock()
}

func (p *Predictor) observeClosed(id sim.HospitalID, bucket hourBucket) {
	if alert, ok := p.Observe(id, bucket.hour, bucket.count); ok {
		anomaliesTotal.WithLabelValues(string(id)).Inc()
		logrus.Warnf("predictor: anomaly: %s", alert.Message)
		p.pub.Publish(bus.TopicPredictionAlerts, string(id), alert)
	}
}

// Run consumes patient-arrivals and retrains on the configured cadence
// until ctx is cancelled.
func (p *Predictor) Run(ctx context.Context, client *bus.Client) error {
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", p.retrain), p.Retrain); err != nil {
		return fmt.Errorf("scheduling retrain: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	consumer := client.Subscribe([]string{bus.TopicPatientArrivals}, ConsumerGroup)
	consumer.On(bus.TopicPatientArrivals, func(msg bus.Message) error {
		var arr sim.PatientArrival
		if err := json.Unmarshal(msg.Payload, &arr); err != nil {
			return fmt.Errorf("decoding arrival: %w", err)
		}
		p.ingest(arr)
		return nil
	})
	logrus.Infof("predictor: running, retrain every %s", p.retrain)
	return consumer.Run(ctx)
}
