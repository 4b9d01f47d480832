package geo

import "fmt"

// Redis key namespace for the Driver Position Store. Exported so
// internal/syncworker can operate on the Active-Dirty/Processing sets
// with the exact same key names the store writes under — the two
// packages share one ephemeral-store namespace by construction, not by
// convention.
const (
	positionKeyPrefix = "dispatch:pos:"
	cellKeyPrefix      = "dispatch:cell:"

	// ActiveDirtyKey holds every driverId whose position has changed
	// since the last successful durable sync.
	ActiveDirtyKey = "dispatch:active_dirty"
	// ProcessingKey holds the driverIds a Location Sync Worker run has
	// claimed via the snapshot rename.
	ProcessingKey = "dispatch:processing"
)

// PositionKey returns the hash key holding a single driver's Position Record.
func PositionKey(driverID string) string {
	return positionKeyPrefix + driverID
}

// CellKey returns the set key holding the driverIds currently in cell.
func CellKey(cell string) string {
	return cellKeyPrefix + cell
}

func cellKeys(cells []string) []string {
	keys := make([]string, len(cells))
	for i, c := range cells {
		keys[i] = CellKey(c)
	}
	return keys
}

func invalidRecordErr(driverID string) error {
	return fmt.Errorf("position record for driver %s is malformed", driverID)
}
