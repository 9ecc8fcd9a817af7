package service

import (
	"time"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
)

type debounceEntry struct {
	lastEmitAt            time.Time
	lastEmitSeverity      domain.Severity
	consecutiveSuppressed int
	lastSeen              time.Time
}

// Debouncer gates emission per zone for a single vehicle. It is owned by the
// vehicle state and is not safe for concurrent use.
type Debouncer struct {
	cooldown time.Duration
	entries  map[string]*debounceEntry
}

func NewDebouncer(cooldown time.Duration) *Debouncer {
	return &Debouncer{
		cooldown: cooldown,
		entries:  make(map[string]*debounceEntry),
	}
}

// ShouldEmit decides for a candidate severity at sample time at. A
// suppressed candidate is counted against the entry.
func (d *Debouncer) ShouldEmit(zoneID string, sev domain.Severity, at time.Time) bool {
	e, ok := d.entries[zoneID]
	if !ok {
		return true
	}
	e.lastSeen = at
	if at.Sub(e.lastEmitAt) >= d.cooldown || sev > e.lastEmitSeverity {
		return true
	}
	e.consecutiveSuppressed++
	return false
}

func (d *Debouncer) Record(zoneID string, sev domain.Severity, at time.Time) {
	e, ok := d.entries[zoneID]
	if !ok {
		e = &debounceEntry{}
		d.entries[zoneID] = e
	}
	e.lastEmitAt = at
	e.lastEmitSeverity = sev
	e.consecutiveSuppressed = 0
	e.lastSeen = at
}

func (d *Debouncer) Reset(zoneID string) {
	delete(d.entries, zoneID)
}

// Suppressed returns how many candidates were held back since the last emit.
func (d *Debouncer) Suppressed(zoneID string) int {
	if e, ok := d.entries[zoneID]; ok {
		return e.consecutiveSuppressed
	}
	return 0
}

// GC drops entries not seen for idle, except those keep reports true for.
func (d *Debouncer) GC(now time.Time, idle time.Duration, keep func(zoneID string) bool) int {
	removed := 0
	for id, e := range d.entries {
		if now.Sub(e.lastSeen) > idle && (keep == nil || !keep(id)) {
			delete(d.entries, id)
			removed++
		}
	}
	return removed
}

func (d *Debouncer) Len() int {
	return len(d.entries)
}
