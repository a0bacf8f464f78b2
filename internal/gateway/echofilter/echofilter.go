// Package echofilter decides whether an input transcription fragment is
// likely an echo of the assistant's own recent speech, rather than genuine
// user speech, and so should be dropped before it reaches the scratchpad.
package echofilter

import "strings"

// Policy reports whether candidate (a lowercased input fragment) should be
// treated as an echo of history (the most recent lowercased output
// fragments, oldest first). It is a named type rather than a bare function
// so the default rule can be swapped in tests without restructuring the
// caller.
type Policy func(history []string, candidate string) bool

// Default is the filter's standard rule: a candidate is an echo if it
// exactly matches, contains, or is contained by any recent output fragment,
// or shares more than half its tokens with one (Jaccard-like, using the
// larger of the two token-set sizes as the denominator).
func Default(history []string, candidate string) bool {
	candidate = strings.ToLower(candidate)
	candidateWords := wordSet(candidate)

	for _, output := range history {
		if candidate == output || strings.Contains(output, candidate) || strings.Contains(candidate, output) {
			return true
		}

		outputWords := wordSet(output)
		if len(candidateWords) == 0 || len(outputWords) == 0 {
			continue
		}
		overlap := len(intersect(candidateWords, outputWords))
		denom := len(candidateWords)
		if len(outputWords) > denom {
			denom = len(outputWords)
		}
		if float64(overlap)/float64(denom) > 0.5 {
			return true
		}
	}
	return false
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

// maxHistory is the ring capacity: the filter only ever compares against the
// most recent 10 output fragments.
const maxHistory = 10

// Filter holds a bounded ring of recent output fragments and applies Policy
// against it. The zero value is ready to use with the Default policy.
type Filter struct {
	Rule    Policy
	recent  []string
}

// RecordOutput appends an assistant output fragment (lowercased) to the
// ring, evicting the oldest entry once the ring exceeds maxHistory.
func (f *Filter) RecordOutput(fragment string) {
	f.recent = append(f.recent, strings.ToLower(strings.TrimSpace(fragment)))
	if len(f.recent) > maxHistory {
		f.recent = f.recent[len(f.recent)-maxHistory:]
	}
}

// IsEcho reports whether candidate should be dropped as an echo of recent
// assistant output, per Rule (Default if unset).
func (f *Filter) IsEcho(candidate string) bool {
	rule := f.Rule
	if rule == nil {
		rule = Default
	}
	return rule(f.recent, strings.TrimSpace(candidate))
}
