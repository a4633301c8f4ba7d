package agent

import "sort"

// CandidateOrder returns the variants to try, in order.
//
// With an attachment the vision variants come first by rank, followed by the
// text variants by rank whose ID was not already listed. Without one only the
// text variants are used. The input slice is not modified.
func CandidateOrder(variants []Variant, hasAttachment bool) []Variant {
	vision := byCapability(variants, CapabilityVision)
	text := byCapability(variants, CapabilityText)

	if !hasAttachment {
		return text
	}

	seen := make(map[string]bool, len(vision))
	out := make([]Variant, 0, len(vision)+len(text))
	for _, v := range vision {
		seen[v.ID] = true
		out = append(out, v)
	}
	for _, v := range text {
		if seen[v.ID] {
			continue
		}
		seen[v.ID] = true
		out = append(out, v)
	}
	return out
}

func byCapability(variants []Variant, capability Capability) []Variant {
	out := make([]Variant, 0, len(variants))
	for _, v := range variants {
		if v.Capability == capability {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Rank < out[j].Rank
	})
	return out
}
