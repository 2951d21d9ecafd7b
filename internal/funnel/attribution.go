package funnel

import (
	"math"
	"time"

	"github.com/angelmondragon/signup-sync/pkg/db/models"
)

// firstTouchFor picks the first-touch snapshot for a new event. The lead's
// earliest event wins unless the new event predates it, as happens when a
// sync backfills history.
func firstTouchFor(own models.Touch, earliest *models.FunnelEvent) models.Touch {
	if earliest == nil || own.At.Before(earliest.FirstTouchAt) {
		return own
	}
	return earliest.FirstTouch()
}

// applyAttribution stamps first and last touch onto a not-yet-inserted event.
func applyAttribution(ev *models.FunnelEvent, earliest *models.FunnelEvent) {
	own := ev.OwnTouch()
	ev.SetFirstTouch(firstTouchFor(own, earliest))
	ev.SetLastTouch(own)
}

// daysBetween counts whole days from first to converted, never negative.
func daysBetween(first, converted time.Time) int {
	d := converted.Sub(first)
	if d <= 0 {
		return 0
	}
	return int(math.Floor(d.Hours() / 24))
}
