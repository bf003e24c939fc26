// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package multiprog parses multi-program configuration files (§4.9):
// per-task-rank program and argument assignment, resolved against PATH
// when the program name carries no directory component.
package multiprog

import (
	"bufio"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	cerrors "github.com/jontk/slurm-controller/pkg/errors"
)

// Entry is one parsed configuration line.
type Entry struct {
	RankExpr string
	Ranks    map[int]bool // nil means "*" (every rank)
	Program  string
	Args     []string
}

// matches reports whether rank belongs to this entry's rank set.
func (e Entry) matches(rank int) bool {
	if e.Ranks == nil {
		return true
	}
	return e.Ranks[rank]
}

// offset returns rank's 0-based position among this entry's ranks in
// ascending order, used for %o substitution.
func (e Entry) offset(rank int) int {
	if e.Ranks == nil {
		return rank
	}
	sorted := make([]int, 0, len(e.Ranks))
	for r := range e.Ranks {
		sorted = append(sorted, r)
	}
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	for i, r := range sorted {
		if r == rank {
			return i
		}
	}
	return 0
}

// Config is a parsed multi-program configuration, in declaration order.
type Config struct {
	entries []Entry
}

// Parse reads a configuration's lines, skipping blanks and lines starting
// with '#'.
func Parse(r *bufio.Scanner) (*Config, error) {
	cfg := &Config{}
	lineNo := 0
	for r.Scan() {
		lineNo++
		line := strings.TrimSpace(r.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields, err := tokenize(line)
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindUnexpectedMessage, fmt.Sprintf("multiprog config line %d", lineNo), err)
		}
		if len(fields) < 2 {
			return nil, cerrors.New(cerrors.KindUnexpectedMessage, fmt.Sprintf("multiprog config line %d: expected rank-expr, program, [args...]", lineNo))
		}
		ranks, err := parseRankExpr(fields[0])
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindUnexpectedMessage, fmt.Sprintf("multiprog config line %d: bad rank expression", lineNo), err)
		}
		cfg.entries = append(cfg.entries, Entry{
			RankExpr: fields[0],
			Ranks:    ranks,
			Program:  fields[1],
			Args:     fields[2:],
		})
	}
	if err := r.Err(); err != nil {
		return nil, cerrors.Wrap(cerrors.KindUnexpectedMessage, "reading multiprog config", err)
	}
	return cfg, nil
}

// parseRankExpr turns "*", "1,3,5", or "2-4" (and combinations) into a
// rank set. "*" returns nil, meaning "every rank".
func parseRankExpr(expr string) (map[int]bool, error) {
	if expr == "*" {
		return nil, nil
	}
	ranks := make(map[int]bool)
	for _, part := range strings.Split(expr, ",") {
		if dash := strings.Index(part, "-"); dash > 0 {
			lo, err := strconv.Atoi(part[:dash])
			if err != nil {
				return nil, err
			}
			hi, err := strconv.Atoi(part[dash+1:])
			if err != nil {
				return nil, err
			}
			for i := lo; i <= hi; i++ {
				ranks[i] = true
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		ranks[n] = true
	}
	return ranks, nil
}

// tokenize splits a config line on whitespace, honouring backslash
// escapes and single-quoted spans that preserve embedded whitespace.
func tokenize(line string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inQuote := false
	haveToken := false

	flush := func() {
		if haveToken {
			fields = append(fields, cur.String())
			cur.Reset()
			haveToken = false
		}
	}

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\\' && i+1 < len(runes):
			i++
			cur.WriteRune(runes[i])
			haveToken = true
		case c == '\'':
			inQuote = !inQuote
			haveToken = true
		case c == ' ' || c == '\t':
			if inQuote {
				cur.WriteRune(c)
			} else {
				flush()
			}
		default:
			cur.WriteRune(c)
			haveToken = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	flush()
	return fields, nil
}

// Resolve returns the program path and argv for the given task rank,
// substituting %t (task rank) and %o (offset within the matching rank
// expression) in program and arguments. Program names without a '/' are
// resolved against PATH.
func (c *Config) Resolve(rank int) (program string, argv []string, err error) {
	for _, e := range c.entries {
		if !e.matches(rank) {
			continue
		}
		offset := e.offset(rank)
		prog := substitute(e.Program, rank, offset)
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = substitute(a, rank, offset)
		}

		if !strings.Contains(prog, "/") {
			resolved, lookErr := exec.LookPath(prog)
			if lookErr != nil {
				return "", nil, cerrors.Wrap(cerrors.KindNotFound, "resolving program against PATH", lookErr)
			}
			prog = resolved
		}
		return prog, args, nil
	}
	return "", nil, cerrors.New(cerrors.KindNotFound, fmt.Sprintf("no multiprog entry matches rank %d", rank))
}

func substitute(s string, rank, offset int) string {
	s = strings.ReplaceAll(s, "%t", strconv.Itoa(rank))
	s = strings.ReplaceAll(s, "%o", strconv.Itoa(offset))
	return s
}
