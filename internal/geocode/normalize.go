package geocode

import (
	"regexp"
	"strings"
)

const kelburnCampus = "Kelburn Parade, Kelburn, Wellington 6012, New Zealand"

// roomCode matches campus room codes such as "CO246" or "MYLT101".
var roomCode = regexp.MustCompile(`^([A-Za-z]{2,4})(\d{1,3})$`)

// campusBuildings are the building prefixes that resolve to the Kelburn campus.
var campusBuildings = map[string]string{
	"CO":   "Cotton Building",
	"MY":   "Murphy Building",
	"MYLT": "Murphy Lecture Theatre",
	"KK":   "Kirk Building",
	"HM":   "Hugh Mackenzie Building",
	"EA":   "Easterfield Building",
	"VZ":   "von Zedlitz Building",
	"MC":   "Maclaurin Building",
	"AM":   "Alan MacDiarmid Building",
}

var streetWords = []string{"street", "road", "avenue", "drive"}

// NormalizeAddress turns calendar location text into a query a geocoder is
// likely to resolve. It is idempotent: normalizing a normalized address
// returns it unchanged.
func NormalizeAddress(address string) string {
	normalized := strings.TrimSpace(address)
	if normalized == "" {
		return ""
	}

	if m := roomCode.FindStringSubmatch(normalized); m != nil {
		if _, ok := campusBuildings[strings.ToUpper(m[1])]; ok {
			return kelburnCampus
		}
	}

	lower := strings.ToLower(normalized)
	if strings.Contains(lower, "wellington") || strings.Contains(lower, "new zealand") {
		return normalized
	}
	for _, w := range streetWords {
		if strings.Contains(lower, w) {
			return normalized
		}
	}
	return normalized + ", Wellington, New Zealand"
}

// cacheKey is the case-folded form used to index caches and static tables.
func cacheKey(address string) string {
	return strings.ToLower(NormalizeAddress(address))
}
