package trend

import "sort"

// MergePolicy decides when two canonical keys name the same topic.
type MergePolicy struct {
	// AutoMergeSimilarity is the minimum edit similarity for keys with
	// identical stemmed tokens to be merged without review.
	AutoMergeSimilarity float64 `yaml:"auto_merge_similarity"`
	// ReviewSimilarity is the minimum token Jaccard index for a pair to be
	// flagged as a merge candidate.
	ReviewSimilarity float64 `yaml:"review_similarity"`
}

func DefaultMergePolicy() MergePolicy {
	return MergePolicy{AutoMergeSimilarity: 0.8, ReviewSimilarity: 0.5}
}

// Candidate is a pair of keys that looked alike but stayed distinct.
type Candidate struct {
	KeyA       string
	KeyB       string
	Similarity float64
}

// Resolution is the outcome of merging one region/language group.
type Resolution struct {
	// Target maps every incoming key to the key it is stored under: itself, an
	// existing key, or an earlier incoming key it was merged into.
	Target map[string]string
	// Aliases holds only the incoming keys that were merged into another key.
	Aliases map[string]string
	// Candidates are near-duplicates that need a human decision.
	Candidates []Candidate
}

type anchor struct {
	key    string
	tokens []string
}

// Resolve merges incoming keys against existing ones. Existing keys (including
// known aliases) are tried first, then incoming keys that were kept distinct,
// in sorted order. The result does not depend on the order of either slice.
func (p MergePolicy) Resolve(existing, incoming []string) Resolution {
	res := Resolution{
		Target:  make(map[string]string),
		Aliases: make(map[string]string),
	}

	known := make(map[string]bool, len(existing))
	var anchors []anchor
	for _, k := range sortedUnique(existing) {
		known[k] = true
		anchors = append(anchors, anchor{key: k, tokens: keyTokens(k)})
	}

	for _, k := range sortedUnique(incoming) {
		if known[k] {
			res.Target[k] = k
			continue
		}

		tokens := keyTokens(k)
		var merges []anchor
		var related []Candidate
		for _, a := range anchors {
			if sameTokens(tokens, a.tokens) && editSimilarity(k, a.key) >= p.AutoMergeSimilarity {
				merges = append(merges, a)
				continue
			}
			if sim := jaccardSimilarity(tokens, a.tokens); sim >= p.ReviewSimilarity && sim > 0 {
				related = append(related, Candidate{KeyA: a.key, KeyB: k, Similarity: sim})
			}
		}

		if len(merges) == 1 {
			res.Target[k] = merges[0].key
			res.Aliases[k] = merges[0].key
			continue
		}

		// Ambiguous or unmatched: keep it as its own topic.
		for _, m := range merges {
			related = append(related, Candidate{KeyA: m.key, KeyB: k, Similarity: 1})
		}
		res.Target[k] = k
		res.Candidates = append(res.Candidates, related...)
		anchors = append(anchors, anchor{key: k, tokens: tokens})
	}

	sort.Slice(res.Candidates, func(i, j int) bool {
		a, b := res.Candidates[i], res.Candidates[j]
		if a.KeyA != b.KeyA {
			return a.KeyA < b.KeyA
		}
		return a.KeyB < b.KeyB
	})
	return res
}

func sortedUnique(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
