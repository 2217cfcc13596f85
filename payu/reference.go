package payu

import (
	"fmt"
	"strconv"
	"strings"
)

// Reference builds the merchant reference code sent to the gateway,
// e.g. "MOTO-42". It is the only encoding of order identity that survives
// the gateway round trip.
func Reference(prefix string, orderID int) string {
	return fmt.Sprintf("%s-%d", prefix, orderID)
}

// ParseReference extracts the order id from a reference_sale string. The
// gateway echoes the reference back verbatim, but the payload is attacker
// reachable, so anything malformed reports ok=false instead of an error.
func ParseReference(prefix, reference string) (orderID int, ok bool) {
	rest, found := strings.CutPrefix(reference, prefix+"-")
	if !found || rest == "" {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
