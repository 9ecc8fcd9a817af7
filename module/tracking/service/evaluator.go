package service

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/metrics"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/spatial"
)

const (
	minProximityBand = 300.0
	minRadiusBand    = 500.0
)

type EvaluatorConfig struct {
	SearchRadius    float64
	ProximityBand   float64
	ClearHysteresis float64
	Cooldown        time.Duration
	IdleGC          time.Duration
	MaxSkew         time.Duration
	MaxLateness     time.Duration
	Shards          int
	VehicleIdleTTL  time.Duration
	// SpeedThresholds in km/h per category; zero disables escalation.
	SpeedThresholds map[domain.Category]float64
}

func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		SearchRadius:    5000,
		ProximityBand:   2,
		ClearHysteresis: 1.5,
		Cooldown:        60 * time.Second,
		IdleGC:          time.Hour,
		MaxSkew:         60 * time.Second,
		MaxLateness:     30 * time.Second,
		Shards:          32,
		VehicleIdleTTL:  time.Hour,
		SpeedThresholds: map[domain.Category]float64{
			domain.CategoryAccident:     60,
			domain.CategoryConstruction: 40,
		},
	}
}

type activeAlert struct {
	id       string
	zoneName string
	severity domain.Severity
}

// VehicleState is the evaluator's memory of one vehicle.
type VehicleState struct {
	lastSample   *domain.LocationSample
	active       map[string]activeAlert
	debouncer    *Debouncer
	lastActivity time.Time
}

type vehicleShard struct {
	mu       sync.Mutex
	vehicles map[string]*VehicleState
}

// Evaluator classifies each sample against the zone index and decides which
// alerts to raise or clear. Calls for one vehicle must not overlap; the
// dispatcher guarantees that.
type Evaluator struct {
	cfg    EvaluatorConfig
	index  *spatial.Index
	shards []*vehicleShard
	now    func() time.Time
	newID  func() string
}

func NewEvaluator(cfg EvaluatorConfig, index *spatial.Index) *Evaluator {
	if cfg.Shards <= 0 {
		cfg.Shards = 32
	}
	shards := make([]*vehicleShard, cfg.Shards)
	for i := range shards {
		shards[i] = &vehicleShard{vehicles: make(map[string]*VehicleState)}
	}
	return &Evaluator{
		cfg:    cfg,
		index:  index,
		shards: shards,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Evaluation is the outcome of one accepted sample.
type Evaluation struct {
	Sample domain.LocationSample
	Events []domain.AlertEvent
}

func (e *Evaluator) shardFor(vehicleID string) *vehicleShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(vehicleID))
	return e.shards[h.Sum32()%uint32(len(e.shards))]
}

// Validate checks a sample before it reaches any vehicle state.
func (e *Evaluator) Validate(s *domain.LocationSample) error {
	if s.VehicleID == "" {
		return domain.NewError(domain.KindBadMessage, "vehicleId: required")
	}
	if math.IsNaN(s.Lat) || s.Lat < -90 || s.Lat > 90 {
		return domain.NewError(domain.KindBadMessage, "latitude: must be within [-90,90]")
	}
	if math.IsNaN(s.Lon) || s.Lon < -180 || s.Lon > 180 {
		return domain.NewError(domain.KindBadMessage, "longitude: must be within [-180,180]")
	}
	if math.IsNaN(s.Speed) || s.Speed < 0 {
		return domain.NewError(domain.KindBadMessage, "speed: must not be negative")
	}
	if s.Heading != nil && (*s.Heading < 0 || *s.Heading > 360) {
		return domain.NewError(domain.KindBadMessage, "heading: must be within [0,360]")
	}
	if s.Accuracy != nil && *s.Accuracy < 0 {
		return domain.NewError(domain.KindBadMessage, "accuracy: must not be negative")
	}
	if s.Timestamp.IsZero() {
		return domain.NewError(domain.KindBadMessage, "timestamp: required")
	}
	if skew := s.Timestamp.Sub(e.now()); skew > e.cfg.MaxSkew {
		return domain.NewError(domain.KindBadMessage, fmt.Sprintf("timestamp: %s in the future", skew.Round(time.Second)))
	}
	return nil
}

// Evaluate runs one sample through the vehicle's state. Rejected samples
// leave the state untouched.
func (e *Evaluator) Evaluate(s domain.LocationSample) (*Evaluation, error) {
	start := time.Now()
	defer metrics.ObserveEvalLatency(start)

	if err := e.Validate(&s); err != nil {
		return nil, err
	}

	shard := e.shardFor(s.VehicleID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	st, ok := shard.vehicles[s.VehicleID]
	if !ok {
		st = &VehicleState{
			active:    make(map[string]activeAlert),
			debouncer: NewDebouncer(e.cfg.Cooldown),
		}
		shard.vehicles[s.VehicleID] = st
	}
	if last := st.lastSample; last != nil {
		if late := last.Timestamp.Sub(s.Timestamp); late > e.cfg.MaxLateness {
			return nil, domain.NewError(domain.KindStale, fmt.Sprintf("sample is %s older than the last accepted one", late.Round(time.Second)))
		}
		if !s.Timestamp.After(last.Timestamp) {
			return nil, domain.NewError(domain.KindStale, "sample is not newer than the last accepted one")
		}
	}

	now := e.now()
	sample := s
	st.lastSample = &sample
	st.lastActivity = now

	out := &Evaluation{Sample: s}
	point := s.Point()
	hits := e.index.Query(point, e.searchRadius(), s.Timestamp)
	producing := make(map[string]struct{}, len(hits))
	distances := make(map[string]float64, len(hits))

	for _, hit := range hits {
		zone := hit.Zone
		distances[zone.ID] = hit.DistanceMeters
		sev := e.severityAt(hit, &s)
		if sev == domain.SeverityNone {
			continue
		}
		producing[zone.ID] = struct{}{}
		if !st.debouncer.ShouldEmit(zone.ID, sev, s.Timestamp) {
			metrics.AlertsSuppressed.Inc()
			continue
		}
		a, ok := st.active[zone.ID]
		if !ok {
			a.id = e.newID()
		}
		a.zoneName = zone.Name
		a.severity = sev
		st.active[zone.ID] = a
		st.debouncer.Record(zone.ID, sev, s.Timestamp)
		out.Events = append(out.Events, e.alertEvent(&s, zone.ID, a, hit.DistanceMeters, domain.AlertActive, now))
	}

	for _, zoneID := range sortedKeys(st.active) {
		if _, ok := producing[zoneID]; ok {
			continue
		}
		d, inRange := distances[zoneID]
		clear := false
		if !inRange {
			zone, ok := e.index.Get(zoneID)
			if !ok || !zone.IsLive(s.Timestamp) {
				clear = true
			} else {
				d = spatial.ZoneDistance(&zone, point)
				clear = d > e.clearBand(&zone)
			}
		} else if zone, ok := e.index.Get(zoneID); ok {
			clear = d > e.clearBand(&zone)
		}
		if !clear {
			continue
		}
		a := st.active[zoneID]
		delete(st.active, zoneID)
		st.debouncer.Reset(zoneID)
		out.Events = append(out.Events, e.alertEvent(&s, zoneID, a, d, domain.AlertCleared, now))
	}

	st.debouncer.GC(s.Timestamp, e.cfg.IdleGC, func(zoneID string) bool {
		_, ok := st.active[zoneID]
		return ok
	})
	return out, nil
}

// Sweep evicts vehicles idle for longer than the configured TTL and returns
// the clear events owed for their active alerts.
func (e *Evaluator) Sweep(now time.Time) []domain.AlertEvent {
	var events []domain.AlertEvent
	for _, shard := range e.shards {
		shard.mu.Lock()
		for id, st := range shard.vehicles {
			if now.Sub(st.lastActivity) <= e.cfg.VehicleIdleTTL {
				continue
			}
			if st.lastSample != nil {
				for _, zoneID := range sortedKeys(st.active) {
					point := st.lastSample.Point()
					d := 0.0
					if zone, ok := e.index.Get(zoneID); ok {
						d = spatial.ZoneDistance(&zone, point)
					}
					events = append(events, e.alertEvent(st.lastSample, zoneID, st.active[zoneID], d, domain.AlertCleared, now))
				}
			}
			delete(shard.vehicles, id)
		}
		shard.mu.Unlock()
	}
	return events
}

// ActiveZones lists the zones holding an active alert for the vehicle.
func (e *Evaluator) ActiveZones(vehicleID string) []string {
	shard := e.shardFor(vehicleID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	st, ok := shard.vehicles[vehicleID]
	if !ok {
		return nil
	}
	return sortedKeys(st.active)
}

func (e *Evaluator) Vehicles() int {
	n := 0
	for _, shard := range e.shards {
		shard.mu.Lock()
		n += len(shard.vehicles)
		shard.mu.Unlock()
	}
	return n
}

func (e *Evaluator) severityAt(hit spatial.Hit, s *domain.LocationSample) domain.Severity {
	z := &hit.Zone
	if hit.Inside() {
		sev := z.Severity
		if th := e.cfg.SpeedThresholds[z.Category]; th > 0 && s.SpeedKmh() > th {
			sev = sev.Escalate()
		}
		return sev
	}
	if hit.DistanceMeters <= e.proximityBand(z) {
		return z.Severity.Reduce()
	}
	return domain.SeverityNone
}

// proximityBand is the width beyond the boundary that still yields an alert.
func (e *Evaluator) proximityBand(z *domain.HazardZone) float64 {
	return math.Max(minProximityBand, math.Max(e.cfg.ProximityBand*z.Radius, minRadiusBand))
}

func (e *Evaluator) clearBand(z *domain.HazardZone) float64 {
	return e.proximityBand(z) * e.cfg.ClearHysteresis
}

// searchRadius covers every zone that can still hold an active alert.
func (e *Evaluator) searchRadius() float64 {
	reach := e.index.MaxReach()
	band := math.Max(minProximityBand, math.Max(e.cfg.ProximityBand*reach, minRadiusBand))
	return math.Max(e.cfg.SearchRadius, reach+band*e.cfg.ClearHysteresis)
}

func (e *Evaluator) alertEvent(s *domain.LocationSample, zoneID string, a activeAlert, distance float64, status domain.AlertStatus, now time.Time) domain.AlertEvent {
	ev := domain.AlertEvent{
		ID:              a.id,
		VehicleID:       s.VehicleID,
		CompanyID:       s.CompanyID,
		ShipmentID:      s.ShipmentID,
		ZoneID:          zoneID,
		ZoneName:        a.zoneName,
		Severity:        a.severity,
		DistanceMeters:  distance,
		Lat:             s.Lat,
		Lon:             s.Lon,
		SampleTimestamp: s.Timestamp,
		EmittedAt:       now,
		Status:          status,
		CooldownSeconds: int(e.cfg.Cooldown / time.Second),
	}
	if status == domain.AlertCleared {
		clearedAt := now
		ev.ClearedAt = &clearedAt
	}
	return ev
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
