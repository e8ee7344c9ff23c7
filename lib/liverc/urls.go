package liverc

import (
	"net/url"
	"strings"

	"mre-backend/lib/textutil"
)

type URLKind string

const (
	KindJSON    URLKind = "json"
	KindHTML    URLKind = "html"
	KindInvalid URLKind = "invalid"
)

// InvalidReason enumerates why a results url was rejected. The import
// service maps these onto user-facing error codes, so the set is part
// of the contract.
type InvalidReason string

const (
	ReasonInvalidAbsoluteURL        InvalidReason = "INVALID_ABSOLUTE_URL"
	ReasonUnsupportedResultsPath    InvalidReason = "UNSUPPORTED_RESULTS_PATH"
	ReasonIncompleteResultsSegments InvalidReason = "INCOMPLETE_RESULTS_SEGMENTS"
	ReasonExtraResultsSegments      InvalidReason = "EXTRA_RESULTS_SEGMENTS"
	ReasonEmptyPathSegment          InvalidReason = "EMPTY_PATH_SEGMENT"
	ReasonEmptySlug                 InvalidReason = "EMPTY_SLUG"
)

type ParsedURL struct {
	Kind URLKind
	// Slugs holds event, class, round, race for KindJSON.
	Slugs []string
	// CanonicalPath is "/results/<event>/<class>/<round>/<race>".
	CanonicalPath string
	// JSONPath is CanonicalPath with the ".json" suffix restored.
	JSONPath string
	// LegacyRaceID carries the id of a legacy "?p=view_race_result"
	// page for KindHTML.
	LegacyRaceID string
	Reason       InvalidReason
}

func invalidURL(reason InvalidReason) ParsedURL {
	return ParsedURL{Kind: KindInvalid, Reason: reason}
}

// ParseResultsURL normalizes a results url into the canonical json
// endpoint, a legacy html page reference, or a typed invalid reason.
func ParseResultsURL(raw string) ParsedURL {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return invalidURL(ReasonInvalidAbsoluteURL)
	}

	query := parsed.Query()
	if query.Get("p") == "view_race_result" && query.Get("id") != "" {
		return ParsedURL{Kind: KindHTML, LegacyRaceID: query.Get("id")}
	}

	segments := strings.Split(strings.Trim(parsed.EscapedPath(), "/"), "/")
	resultsAt := -1
	for i, seg := range segments {
		if seg == "results" {
			resultsAt = i
			break
		}
	}
	if resultsAt < 0 {
		return invalidURL(ReasonUnsupportedResultsPath)
	}

	rest := segments[resultsAt+1:]
	for _, seg := range rest {
		if seg == "" {
			return invalidURL(ReasonEmptyPathSegment)
		}
	}
	if len(rest) < 4 {
		return invalidURL(ReasonIncompleteResultsSegments)
	}
	if len(rest) > 4 {
		return invalidURL(ReasonExtraResultsSegments)
	}

	slugs := make([]string, 4)
	for i, seg := range rest {
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return invalidURL(ReasonUnsupportedResultsPath)
		}
		decoded = strings.TrimSpace(decoded)
		if decoded == "" {
			return invalidURL(ReasonEmptyPathSegment)
		}
		// only the race segment may carry the .json suffix
		if i == 3 {
			decoded = strings.TrimSuffix(decoded, ".json")
		}
		slug := textutil.Slugify(decoded)
		if slug == "" {
			return invalidURL(ReasonEmptySlug)
		}
		slugs[i] = slug
	}

	canonical := "/results/" + strings.Join(slugs, "/")
	return ParsedURL{
		Kind:          KindJSON,
		Slugs:         slugs,
		CanonicalPath: canonical,
		JSONPath:      canonical + ".json",
	}
}

// EventSlugFromRef extracts the event slug from an event page ref,
// the last path segment of "/results/<event>".
func EventSlugFromRef(ref string) string {
	ref = strings.Trim(strings.TrimSpace(ref), "/")
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		ref = ref[i+1:]
	}
	return textutil.Slugify(ref)
}

// SourceSessionID is the stable "event:class:round:race" identity of
// a parsed results url.
func (p ParsedURL) SourceSessionID() string {
	if p.Kind != KindJSON {
		return ""
	}
	return strings.Join(p.Slugs, ":")
}
