package plan

import (
	"math"
	"strings"
	"time"

	"mre-backend/lib/liverc"
	"mre-backend/lib/textutil"
)

// The estimates below are heuristics tuned against club-level LiveRC
// events. They only need to be in the right ballpark: the plan is
// advice about ingestion scope, not a promise.

const (
	baseDriversQual = 9
	baseDriversMain = 10

	qualDuration     = 5 * time.Minute
	mainDuration     = 6 * time.Minute
	aMainDuration    = 8 * time.Minute
	defaultLapTime   = 30 * time.Second
	minDriversPerRun = 3
)

// classDriverRules scale the driver baseline for classes whose entry
// counts consistently run above or below typical. First match wins,
// matched against the slugified class name.
var classDriverRules = []struct {
	keyword    string
	multiplier float64
}{
	{"novice", 0.6},
	{"beginner", 0.6},
	{"pro", 1.25},
	{"open", 1.2},
	{"truggy", 0.9},
}

// classLapRules map a class keyword to a typical lap time on a club
// track. First match wins.
var classLapRules = []struct {
	keyword string
	lapTime time.Duration
}{
	{"truggy", 34 * time.Second},
	{"short-course", 36 * time.Second},
	{"oval", 18 * time.Second},
	{"on-road", 22 * time.Second},
	{"onroad", 22 * time.Second},
	{"nitro", 28 * time.Second},
	{"stock", 35 * time.Second},
	{"buggy", 32 * time.Second},
}

func estimateDrivers(s liverc.SessionSummary) int {
	base := float64(baseDriversQual)
	if s.Type == liverc.SessionMain {
		base = float64(baseDriversMain)
		switch heatLetter(s.Heat) {
		case "a":
			base += 2
		case "b":
			// the baseline
		default:
			base -= 2
		}
	}

	slug := textutil.Slugify(s.ClassName)
	for _, rule := range classDriverRules {
		if strings.Contains(slug, rule.keyword) {
			base *= rule.multiplier
			break
		}
	}

	drivers := int(math.Round(base))
	if drivers < minDriversPerRun {
		drivers = minDriversPerRun
	}
	return drivers
}

func estimateDuration(s liverc.SessionSummary) time.Duration {
	if s.Type != liverc.SessionMain {
		return qualDuration
	}
	if heatLetter(s.Heat) == "a" {
		return aMainDuration
	}
	return mainDuration
}

func estimateLapTime(className string) time.Duration {
	slug := textutil.Slugify(className)
	for _, rule := range classLapRules {
		if strings.Contains(slug, rule.keyword) {
			return rule.lapTime
		}
	}
	return defaultLapTime
}

// estimateLapsPerDriver divides the expected run duration by the
// expected lap time, rounding up so a partial lap still counts.
func estimateLapsPerDriver(s liverc.SessionSummary) int {
	laps := int(math.Ceil(float64(estimateDuration(s)) / float64(estimateLapTime(s.ClassName))))
	if laps < 1 {
		laps = 1
	}
	return laps
}

// heatLetter pulls the leading letter out of a heat label like "A
// Main", "B", or "Heat 2". Empty when the label carries no letter.
func heatLetter(heat string) string {
	heat = strings.TrimSpace(strings.ToLower(heat))
	heat = strings.TrimPrefix(heat, "heat")
	heat = strings.TrimSuffix(heat, "main")
	heat = strings.TrimSpace(heat)
	if heat == "" {
		return ""
	}
	first := heat[0]
	if first >= 'a' && first <= 'z' {
		return string(first)
	}
	return ""
}
