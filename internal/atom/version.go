// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package atom

import (
	"strconv"
	"strings"
)

// marker identifies one of the pre-release style suffixes that, per the
// comparison lattice, always order before the unsuffixed release.
type marker int

const (
	markerNone marker = iota
	markerBeta
	markerPre
	markerRC
	markerP
)

// markerRank gives the relative order of differing marker kinds. All four
// markers order before the unsuffixed release; beta < pre < rc < p mirrors
// the conventional reading of increasing release maturity.
var markerRank = map[marker]int{
	markerBeta: 0,
	markerPre:  1,
	markerRC:   2,
	markerP:    3,
	markerNone: 4,
}

// run is one maximal numeric or alphabetic segment of a version string.
type run struct {
	numeric bool
	num     int64
	text    string
}

// parsedVersion is a version string decomposed per the comparison lattice
//: a sequence of numeric/alphabetic runs, an optional trailing
// pre-release marker, and an optional Entropy revision.
type parsedVersion struct {
	runs       []run
	marker     marker
	markerNum  int64
	revision   int64
	hasRevision bool
	raw        string
}

// ParseVersion decomposes a printable version string (without any atom
// operator prefix) into its comparison components. It never errors: any
// input, however irregular, yields a parseable (if degenerate) result,
// the same tolerance real upstream version strings demand.
func ParseVersion(s string) parsedVersion {
	pv := parsedVersion{raw: s}

	body := s
	if idx := strings.LastIndex(body, "-r"); idx >= 0 {
		if rev, ok := parseUint(body[idx+2:]); ok {
			pv.revision = rev
			pv.hasRevision = true
			body = body[:idx]
		}
	}

	for _, cand := range []struct {
		sep string
		m   marker
	}{
		{"_beta", markerBeta},
		{"_pre", markerPre},
		{"_rc", markerRC},
		{"_p", markerP},
	} {
		if idx := strings.LastIndex(body, cand.sep); idx >= 0 {
			if n, ok := parseUint(body[idx+len(cand.sep):]); ok {
				pv.marker = cand.m
				pv.markerNum = n
				body = body[:idx]
				break
			}
		}
	}

	pv.runs = splitRuns(body)
	return pv
}

func parseUint(s string) (int64, bool) {
	if s == "" {
		// A bare marker with no trailing digits (e.g. "_pre") is treated as
		// marker number 0, matching how an absent "-r<n>" means revision 0.
		return 0, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitRuns(s string) []run {
	var runs []run
	i := 0
	for i < len(s) {
		start := i
		isNum := isDigit(s[i])
		for i < len(s) && isDigit(s[i]) == isNum {
			i++
		}
		seg := s[start:i]
		if isNum {
			runs = append(runs, run{numeric: true, num: parseNumericRun(seg)})
		} else {
			runs = append(runs, run{numeric: false, text: seg})
		}
	}
	return runs
}

func parseNumericRun(seg string) int64 {
	n, err := strconv.ParseInt(seg, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// CompareVersions implements the 3-valued compare: split into
// numeric/alphabetic runs (numeric runs compare as integers, alphabetic runs
// lexicographically), then marker, then revision.
func CompareVersions(a, b string) int {
	pa, pb := ParseVersion(a), ParseVersion(b)
	return pa.compare(pb)
}

func (pv parsedVersion) compare(other parsedVersion) int {
	n := len(pv.runs)
	if len(other.runs) > n {
		n = len(other.runs)
	}
	for i := 0; i < n; i++ {
		var ra, rb run
		if i < len(pv.runs) {
			ra = pv.runs[i]
		}
		if i < len(other.runs) {
			rb = other.runs[i]
		}
		if c := compareRun(ra, rb); c != 0 {
			return c
		}
	}

	if c := markerRank[pv.marker] - markerRank[other.marker]; c != 0 {
		if c < 0 {
			return -1
		}
		return 1
	}
	if pv.marker != markerNone {
		if pv.markerNum != other.markerNum {
			if pv.markerNum < other.markerNum {
				return -1
			}
			return 1
		}
	}

	if pv.revision != other.revision {
		if pv.revision < other.revision {
			return -1
		}
		return 1
	}
	return 0
}

// compareRun compares two runs that occupy the same position in two version
// strings. A missing run (one version shorter than the other) compares as
// less than any present run, the conventional "1.2 < 1.2.1" reading.
func compareRun(a, b run) int {
	// Disambiguate a genuine numeric run of 0 from "run absent": callers pad
	// with the zero value of run{}, which has numeric == false. A present
	// numeric run always has numeric == true.
	aPresent := a.numeric || a.text != ""
	bPresent := b.numeric || b.text != ""

	if !aPresent && !bPresent {
		return 0
	}
	if !aPresent {
		return -1
	}
	if !bPresent {
		return 1
	}

	if a.numeric && b.numeric {
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		default:
			return 0
		}
	}
	if !a.numeric && !b.numeric {
		return strings.Compare(a.text, b.text)
	}
	// One numeric, one alphabetic at the same run position: numeric sorts
	// first (e.g. "1" before "a"), consistent with digits preceding letters
	// in ASCII and with upstream version strings rarely mixing the two at
	// the same position.
	if a.numeric {
		return -1
	}
	return 1
}

// CompareRevisions orders two non-negative revision integers; -r0 and an
// absent revision are both normalized to 0 by ParseVersion.
func CompareRevisions(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// CompareTagsForSelection orders two tags for the resolver's tie-break
// cascade. When the caller requested a specific tag, candidates are
// already filtered to that exact tag and this degenerates to equality;
// when no tag was requested, an empty tag is preferred (treated as
// greatest) over any non-empty tag, and non-empty tags compare
// lexicographically.
func CompareTagsForSelection(a, b, requested string) int {
	if requested != "" {
		return strings.Compare(a, b)
	}
	if a == b {
		return 0
	}
	if a == "" {
		return 1
	}
	if b == "" {
		return -1
	}
	return strings.Compare(a, b)
}

// Revision extracts the Entropy revision encoded in a version string (the
// trailing "-r<n>"), normalizing an absent revision to 0.
func Revision(version string) int64 {
	return ParseVersion(version).revision
}
