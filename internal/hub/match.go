package hub

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// MatchResult scores how well a local filename or cleaned name corresponds
// to a remote repo's official name (§4.4: used to backfill metadata for
// models that were imported from disk rather than downloaded).
type MatchResult struct {
	RepoID     string
	Confidence float64
	Method     string
}

// MatchFilename scores candidates against name using three signals, in
// descending confidence: exact match, substring/prefix containment, and
// Levenshtein-distance-adjacent fuzzy similarity. Only the best candidate
// is returned; callers that want every candidate's score should call
// scoreCandidate directly.
func MatchFilename(name string, candidates []RemoteModel) (MatchResult, bool) {
	norm := normalizeForMatch(name)
	var best MatchResult
	found := false

	for _, c := range candidates {
		score, method := scoreCandidate(norm, c)
		if score <= 0 {
			continue
		}
		if !found || score > best.Confidence {
			best = MatchResult{RepoID: c.RepoID, Confidence: score, Method: method}
			found = true
		}
	}
	return best, found
}

func scoreCandidate(norm string, c RemoteModel) (float64, string) {
	candName := normalizeForMatch(c.RepoID)
	if candName == norm {
		return 1.0, "exact"
	}
	if i := strings.LastIndex(c.RepoID, "/"); i >= 0 && i < len(c.RepoID)-1 {
		// Filenames rarely carry the owner prefix, so the remaining
		// signals compare against the repo name alone.
		candName = normalizeForMatch(c.RepoID[i+1:])
		if candName == norm {
			return 1.0, "exact"
		}
	}
	if strings.Contains(candName, norm) || strings.Contains(norm, candName) {
		return 0.85, "substring"
	}
	if strings.HasPrefix(candName, norm) || strings.HasPrefix(norm, candName) {
		return 0.75, "prefix"
	}

	dist := levenshtein.ComputeDistance(norm, candName)
	longest := len(norm)
	if len(candName) > longest {
		longest = len(candName)
	}
	if longest == 0 {
		return 0, ""
	}
	similarity := 1 - float64(dist)/float64(longest)
	if similarity >= 0.6 {
		return similarity * 0.7, "fuzzy"
	}
	return 0, ""
}

func normalizeForMatch(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("_", "-", " ", "-", "/", "-").Replace(s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return strings.Trim(s, "-")
}
