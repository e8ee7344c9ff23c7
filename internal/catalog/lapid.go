package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// BuildLapID derives a lap's identity from its content. Identical
// facts always hash to the identical id, so re-ingesting an unchanged
// session can never duplicate laps.
func BuildLapID(eventID, sessionID, raceID, driverID string, lapNumber int) string {
	joined := strings.Join([]string{
		eventID,
		sessionID,
		raceID,
		driverID,
		fmt.Sprintf("%d", lapNumber),
	}, "|")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}
