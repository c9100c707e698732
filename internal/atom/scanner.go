// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package atom

import (
	"strings"

	"github.com/pelletier/go-buffruneio"
)

// scanner tokenizes the leading "!"/operator qualifiers of an atom string.
// It leans on go-buffruneio's bounded pushback the same way go-toml's own
// lexer does, since the operator set includes multi-rune tokens (">=",
// "<=", "=*") that need one rune of lookahead beyond the first match.
type scanner struct {
	r *buffruneio.Reader
}

func newScanner(s string) *scanner {
	return &scanner{r: buffruneio.NewReader(strings.NewReader(s))}
}

// consumeByte consumes a single leading rune if it matches want.
func (sc *scanner) consumeByte(want rune) bool {
	ru, _, _ := sc.r.ReadRune()
	if ru != want {
		sc.r.UnreadRune()
		return false
	}
	return true
}

// consumeOp greedily matches the longest operator token at the current
// position, preferring two-rune operators (">=", "<=", "=*") over their
// one-rune prefixes.
func (sc *scanner) consumeOp() Op {
	first, _, _ := sc.r.ReadRune()

	switch first {
	case '~':
		return OpTilde
	case '>', '<':
		isGT := first == '>'
		second, _, _ := sc.r.ReadRune()
		if second == '=' {
			if isGT {
				return OpGTE
			}
			return OpLTE
		}
		sc.r.UnreadRune()
		if isGT {
			return OpGT
		}
		return OpLT
	case '=':
		second, _, _ := sc.r.ReadRune()
		if second == '*' {
			return OpEqStar
		}
		sc.r.UnreadRune()
		return OpEq
	default:
		sc.r.UnreadRune()
		return OpNone
	}
}

// rest returns every rune not yet consumed from the scanner.
func (sc *scanner) rest() string {
	var b strings.Builder
	for {
		ru, _, _ := sc.r.ReadRune()
		if ru == buffruneio.EOF {
			break
		}
		b.WriteRune(ru)
	}
	return b.String()
}
