package notify

import (
	"fmt"
	"time"

	"github.com/quantleap/chronosim/internal/domain"
)

// Event type strings for paradox lifecycle notifications, used with the
// Notifier's event filter.
const (
	EventParadoxSpawned   = "paradox_spawned"
	EventParadoxExtracted = "paradox_extracted"
	EventParadoxDetonated = "paradox_detonated"
)

// FormatParadox renders one paradox lifecycle transition as an (event,
// title, message) triple for dispatch.
func FormatParadox(inc domain.ParadoxIncident, phase domain.ParadoxPhase) (event, title, message string) {
	switch phase {
	case domain.ParadoxSpawned:
		return EventParadoxSpawned,
			fmt.Sprintf("Paradox spawned (%s)", inc.Severity),
			fmt.Sprintf("timeline %s: divergence %.1f, extraction deadline %s",
				inc.TimelineID, inc.DivergenceAtSpawn, inc.Deadline.UTC().Format(time.RFC3339))

	case domain.ParadoxExtracted:
		return EventParadoxExtracted,
			fmt.Sprintf("Paradox extracted (%s)", inc.Severity),
			fmt.Sprintf("timeline %s: carrier %s paid %.2f",
				inc.TimelineID, inc.Carrier, inc.CostPaid)

	case domain.ParadoxDetonated:
		return EventParadoxDetonated,
			fmt.Sprintf("Paradox detonated (%s)", inc.Severity),
			fmt.Sprintf("timeline %s: stability penalty %.0f applied",
				inc.TimelineID, inc.Severity.DetonationPenalty())

	default:
		return string(phase),
			fmt.Sprintf("Paradox %s (%s)", phase, inc.Severity),
			fmt.Sprintf("timeline %s", inc.TimelineID)
	}
}
