package order

import (
	"fmt"
	"time"
)

// maxNumberAttempts bounds the collision retry loop for order number
// generation. Exhaustion is surfaced as an internal error rather than
// looping forever.
const maxNumberAttempts = 10

// FormatNumber renders the human-facing order number for the given creation
// time and random suffix: ORD-<UTC yyyyMMdd>-<NNNN>.
func FormatNumber(t time.Time, suffix int) string {
	return fmt.Sprintf("ORD-%s-%04d", t.UTC().Format("20060102"), suffix)
}

// numberSuffix maps a random draw to the 1000..9999 suffix range.
func numberSuffix(randInt func(n int) int) int {
	return 1000 + randInt(9000)
}
