// Package wer scores transcription hypotheses against reference transcripts
// using word error rate.
package wer

import (
	"strings"
	"unicode"
)

// Result is the breakdown of one reference/hypothesis alignment.
type Result struct {
	// WER is (Substitutions + Insertions + Deletions) / RefWords.
	WER           float64
	Substitutions int
	Insertions    int
	Deletions     int
	RefWords      int
}

// Compute aligns hypothesis to reference word by word and reports the edit
// counts. Both inputs are normalized first: lowercased, punctuation removed,
// whitespace collapsed. An empty reference scores zero.
func Compute(reference, hypothesis string) Result {
	ref := normalize(reference)
	hyp := normalize(hypothesis)

	n, m := len(ref), len(hyp)
	if n == 0 {
		return Result{}
	}

	// Word-level Levenshtein distance.
	dist := make([][]int, n+1)
	for i := range dist {
		dist[i] = make([]int, m+1)
		dist[i][0] = i
	}
	for j := 1; j <= m; j++ {
		dist[0][j] = j
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if ref[i-1] == hyp[j-1] {
				dist[i][j] = dist[i-1][j-1]
				continue
			}
			best := dist[i-1][j-1]
			if dist[i-1][j] < best {
				best = dist[i-1][j]
			}
			if dist[i][j-1] < best {
				best = dist[i][j-1]
			}
			dist[i][j] = best + 1
		}
	}

	// Walk the table back from the corner to attribute each edit.
	var subs, ins, dels int
	for i, j := n, m; i > 0 || j > 0; {
		switch {
		case i > 0 && j > 0 && ref[i-1] == hyp[j-1]:
			i--
			j--
		case i > 0 && j > 0 && dist[i][j] == dist[i-1][j-1]+1:
			subs++
			i--
			j--
		case i > 0 && dist[i][j] == dist[i-1][j]+1:
			dels++
			i--
		default:
			ins++
			j--
		}
	}

	return Result{
		WER:           float64(subs+ins+dels) / float64(n),
		Substitutions: subs,
		Insertions:    ins,
		Deletions:     dels,
		RefWords:      n,
	}
}

// normalize lowercases, strips punctuation, and splits into words.
func normalize(s string) []string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, strings.ToLower(s))
	return strings.Fields(s)
}
