// Package extraction implements Extraction (§4.7): a pure function that
// derives candidate nodes and edges from an episode's body text. It
// performs no I/O — the caller is responsible for persisting the result.
package extraction

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Nonymaus/cursor-kg/internal/domain"
)

// ModelVersion is stamped on every node/edge this package produces, so a
// future extraction rule change never gets confused with older rows.
const ModelVersion = "rule-extractor-v1"

// properNoun is the cheapest signal for a proper-noun mention: a run of
// Title-Case words ("Alice Johnson", "Acme Corp").
const properNoun = `[A-Z][a-zA-Z0-9]*(?:\s+[A-Z][a-zA-Z0-9]*)*`

var (
	// capitalizedRun matches runs of Title-Case words.
	capitalizedRun = regexp.MustCompile(`\b(` + properNoun + `)\b`)

	// relationVerb matches "<subject> <verb-phrase> <object>" using a
	// closed list of relation-indicating verbs. Bounding subject and object
	// to properNoun (rather than a lazy run of words) means the match stops
	// at the first lowercase word instead of swallowing trailing clauses,
	// so no sentence-ending punctuation is required.
	relationVerb = regexp.MustCompile(`\b(` + properNoun + `)\s+(works with|reports to|knows|manages|depends on|uses|owns|works at)\s+(` + properNoun + `)\b`)
)

// orgSuffixes are word endings that mark an entity as an organization
// rather than a person. Matched as a suffix of the full entity string so
// both "Tech Corp" and "TechCorp" classify the same way.
var orgSuffixes = []string{
	"Corp", "Corporation", "Inc", "Inc.", "LLC", "Ltd", "Ltd.", "Co", "Co.",
	"Company", "Group", "Labs", "Technologies", "Systems", "Solutions", "Holdings", "Partners",
}

// classifyNodeType buckets an extracted entity into a coarse NodeType. This
// layer is intentionally minimal (§4.7): anything not matching a known
// organization suffix is assumed to be a Person.
func classifyNodeType(entity string) string {
	for _, suffix := range orgSuffixes {
		if strings.HasSuffix(entity, suffix) {
			return "Organization"
		}
	}
	return "Person"
}

// commonWords is excluded from entity candidates: sentence-initial
// capitalization produces false positives like "The" or "This".
var commonWords = map[string]bool{
	"The": true, "This": true, "That": true, "These": true, "Those": true,
	"A": true, "An": true, "It": true, "If": true, "When": true, "While": true,
}

// Extract derives nodes and edges from body. It is deterministic: identical
// (groupID, name, body, source) always yields the identical result (§4.7).
func Extract(groupID, name, body string, source domain.Source) ([]domain.Node, []domain.Edge) {
	if groupID == "" {
		groupID = domain.DefaultGroupID
	}

	entities := extractEntities(body)
	names := make([]string, 0, len(entities))
	for entity := range entities {
		names = append(names, entity)
	}
	sort.Strings(names)
	nodes := make([]domain.Node, 0, len(entities))
	byName := make(map[string]string) // entity name -> assigned node id (synthetic, caller assigns real ids)
	for _, entity := range names {
		nodes = append(nodes, domain.Node{
			GroupID:  groupID,
			Name:     entity,
			NodeType: classifyNodeType(entity),
			Summary:  truncateSummary(body, entity),
			Metadata: map[string]string{"extracted_from": name, "model_version": ModelVersion},
		})
		byName[entity] = entity
	}

	var edges []domain.Edge
	for _, m := range relationVerb.FindAllStringSubmatch(body, -1) {
		subj, verb, obj := strings.TrimSpace(m[1]), m[2], strings.TrimSpace(m[3])
		if commonWords[subj] || commonWords[obj] {
			continue
		}
		edges = append(edges, domain.Edge{
			GroupID:      groupID,
			SourceNodeID: subj, // resolved to a real node id by the caller
			TargetNodeID: obj,
			RelationType: strings.ReplaceAll(verb, " ", "_"),
			Summary:      m[0],
			Weight:       0.5,
			Metadata:     map[string]string{"model_version": ModelVersion},
		})
	}

	return nodes, edges
}

// extractEntities returns the set of distinct capitalized-run candidates in
// body, excluding runs that are a single word from commonWords. Other
// sentence-initial capitalized words are kept.
func extractEntities(body string) map[string]bool {
	out := make(map[string]bool)
	for _, match := range capitalizedRun.FindAllString(body, -1) {
		words := strings.Fields(match)
		if len(words) == 1 && commonWords[words[0]] {
			continue
		}
		out[match] = true
	}
	return out
}

// truncateSummary extracts the sentence containing entity from body, capped
// to domain.MaxSummaryBytes.
func truncateSummary(body, entity string) string {
	idx := strings.Index(body, entity)
	if idx < 0 {
		return ""
	}
	start := strings.LastIndexAny(body[:idx], ".\n")
	if start < 0 {
		start = 0
	} else {
		start++
	}
	end := strings.IndexAny(body[idx:], ".\n")
	if end < 0 {
		end = len(body)
	} else {
		end += idx
	}
	summary := strings.TrimSpace(body[start:end])
	if len(summary) > domain.MaxSummaryBytes {
		summary = summary[:domain.MaxSummaryBytes]
	}
	return summary
}
