package spatial

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
)

const (
	DefaultPrecision uint = 6
	// MaxHotRebuild caps how many zones a rebuild may load outside a cold
	// start.
	MaxHotRebuild = 10000
	// maxCellsPerZone keeps very wide zones out of the grid; they are checked
	// on every query instead.
	maxCellsPerZone = 4096
)

var ErrRebuildTooLarge = errors.New("spatial: full rebuild exceeds hot limit")

// Hit is a zone returned by Query with its signed distance to the probe.
type Hit struct {
	Zone           domain.HazardZone
	DistanceMeters float64
}

// Inside reports containment; the boundary counts as inside.
func (h Hit) Inside() bool {
	return h.DistanceMeters <= 0
}

type entry struct {
	zone  domain.HazardZone
	reach float64
	cells []string
	wide  bool
}

// Index is a geohash grid over hazard zones. Readers take a shared lock and
// never observe a partially applied change.
type Index struct {
	mu        sync.RWMutex
	precision uint
	latCells  int
	lonCells  int
	zones     map[string]*entry
	cells     map[string]map[string]*entry
	wide      map[string]*entry
	maxReach  float64
}

func NewIndex(precision uint) *Index {
	if precision == 0 || precision > 12 {
		precision = DefaultPrecision
	}
	bits := precision * 5
	return &Index{
		precision: precision,
		latCells:  1 << (bits / 2),
		lonCells:  1 << ((bits + 1) / 2),
		zones:     make(map[string]*entry),
		cells:     make(map[string]map[string]*entry),
		wide:      make(map[string]*entry),
	}
}

// Upsert inserts or replaces the zone. Validation is the caller's concern.
func (ix *Index) Upsert(z domain.HazardZone) {
	e := ix.newEntry(z)
	ix.mu.Lock()
	defer ix.mu.Unlock()
	old := ix.removeLocked(z.ID)
	ix.insertLocked(e)
	if old != nil && old.reach >= ix.maxReach {
		ix.recomputeReachLocked()
	} else if e.reach > ix.maxReach {
		ix.maxReach = e.reach
	}
}

// Remove deletes the zone and reports whether it was present.
func (ix *Index) Remove(id string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e := ix.removeLocked(id)
	if e == nil {
		return false
	}
	if e.reach >= ix.maxReach {
		ix.recomputeReachLocked()
	}
	return true
}

// Apply folds a zone change into the index.
func (ix *Index) Apply(ch domain.ZoneChange) {
	if ch.Kind == domain.ZoneDeleted || ch.Zone == nil {
		ix.Remove(ch.ZoneID)
		return
	}
	ix.Upsert(*ch.Zone)
}

// Rebuild swaps the whole index content for zones. Outside a cold start the
// number of zones is capped at MaxHotRebuild.
func (ix *Index) Rebuild(zones []domain.HazardZone, cold bool) error {
	if !cold && len(zones) >= MaxHotRebuild {
		return ErrRebuildTooLarge
	}
	entries := make([]*entry, 0, len(zones))
	for _, z := range zones {
		entries = append(entries, ix.newEntry(z))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.zones = make(map[string]*entry, len(entries))
	ix.cells = make(map[string]map[string]*entry)
	ix.wide = make(map[string]*entry)
	ix.maxReach = 0
	for _, e := range entries {
		ix.insertLocked(e)
		if e.reach > ix.maxReach {
			ix.maxReach = e.reach
		}
	}
	return nil
}

func (ix *Index) Get(id string) (domain.HazardZone, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.zones[id]
	if !ok {
		return domain.HazardZone{}, false
	}
	return e.zone, true
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.zones)
}

// MaxReach is the largest zone reach currently indexed, in meters.
func (ix *Index) MaxReach() float64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.maxReach
}

// Query returns every zone live at t whose boundary lies within radius
// meters of p, nearest first.
func (ix *Index) Query(p domain.GeoPoint, radius float64, t time.Time) []Hit {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	seen := make(map[string]struct{})
	var hits []Hit
	consider := func(e *entry) {
		if _, ok := seen[e.zone.ID]; ok {
			return
		}
		seen[e.zone.ID] = struct{}{}
		if !e.zone.IsLive(t) {
			return
		}
		if d := ZoneDistance(&e.zone, p); d <= radius {
			hits = append(hits, Hit{Zone: e.zone, DistanceMeters: d})
		}
	}

	if cells, ok := ix.cover(p, radius); ok {
		for _, c := range cells {
			for _, e := range ix.cells[c] {
				consider(e)
			}
		}
		for _, e := range ix.wide {
			consider(e)
		}
	} else {
		for _, e := range ix.zones {
			consider(e)
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DistanceMeters != hits[j].DistanceMeters {
			return hits[i].DistanceMeters < hits[j].DistanceMeters
		}
		return hits[i].Zone.ID < hits[j].Zone.ID
	})
	return hits
}

// Live lists every zone live at t, ordered by ID.
func (ix *Index) Live(t time.Time) []domain.HazardZone {
	ix.mu.RLock()
	out := make([]domain.HazardZone, 0, len(ix.zones))
	for _, e := range ix.zones {
		if e.zone.IsLive(t) {
			out = append(out, e.zone)
		}
	}
	ix.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs lists every indexed zone regardless of liveness.
func (ix *Index) IDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ids := make([]string, 0, len(ix.zones))
	for id := range ix.zones {
		ids = append(ids, id)
	}
	return ids
}

func (ix *Index) newEntry(z domain.HazardZone) *entry {
	reach := ZoneReach(&z)
	cells, ok := ix.cover(z.Center, reach)
	return &entry{zone: z, reach: reach, cells: cells, wide: !ok}
}

func (ix *Index) insertLocked(e *entry) {
	ix.zones[e.zone.ID] = e
	if e.wide {
		ix.wide[e.zone.ID] = e
		return
	}
	for _, c := range e.cells {
		set, ok := ix.cells[c]
		if !ok {
			set = make(map[string]*entry)
			ix.cells[c] = set
		}
		set[e.zone.ID] = e
	}
}

func (ix *Index) removeLocked(id string) *entry {
	e, ok := ix.zones[id]
	if !ok {
		return nil
	}
	delete(ix.zones, id)
	delete(ix.wide, id)
	for _, c := range e.cells {
		if set, ok := ix.cells[c]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(ix.cells, c)
			}
		}
	}
	return e
}

func (ix *Index) recomputeReachLocked() {
	ix.maxReach = 0
	for _, e := range ix.zones {
		if e.reach > ix.maxReach {
			ix.maxReach = e.reach
		}
	}
}

// cover lists the geohash cells intersecting the bounding box of the disc.
// It returns false when the disc spans more than maxCellsPerZone cells.
func (ix *Index) cover(center domain.GeoPoint, radius float64) ([]string, bool) {
	minLat, maxLat, minLon, maxLon, fullLon := discBounds(center, radius)
	latStep := 180 / float64(ix.latCells)
	lonStep := 360 / float64(ix.lonCells)

	i0 := clamp(int(math.Floor((minLat+90)/latStep)), 0, ix.latCells-1)
	i1 := clamp(int(math.Floor((maxLat+90)/latStep)), 0, ix.latCells-1)
	var j0, j1 int
	if fullLon {
		j0, j1 = 0, ix.lonCells-1
	} else {
		j0 = int(math.Floor((minLon + 180) / lonStep))
		j1 = int(math.Floor((maxLon + 180) / lonStep))
		if j1-j0+1 >= ix.lonCells {
			j0, j1 = 0, ix.lonCells-1
		}
	}

	if (i1-i0+1)*(j1-j0+1) > maxCellsPerZone {
		return nil, false
	}
	cells := make([]string, 0, (i1-i0+1)*(j1-j0+1))
	for i := i0; i <= i1; i++ {
		lat := -90 + (float64(i)+0.5)*latStep
		for j := j0; j <= j1; j++ {
			jj := ((j % ix.lonCells) + ix.lonCells) % ix.lonCells
			lon := -180 + (float64(jj)+0.5)*lonStep
			cells = append(cells, geohash.EncodeWithPrecision(lat, lon, ix.precision))
		}
	}
	return cells, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
