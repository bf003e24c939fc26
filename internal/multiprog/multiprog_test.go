// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package multiprog

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, text string) *Config {
	t.Helper()
	cfg, err := Parse(bufio.NewScanner(strings.NewReader(text)))
	require.NoError(t, err)
	return cfg
}

func TestStarMatchesEveryRank(t *testing.T) {
	cfg := parse(t, "* /bin/echo hello")
	prog, args, err := cfg.Resolve(42)
	require.NoError(t, err)
	assert.Equal(t, "/bin/echo", prog)
	assert.Equal(t, []string{"hello"}, args)
}

func TestCommaListAndDashRangeMatch(t *testing.T) {
	cfg := parse(t, "0,2,5-7 /bin/echo worker")
	for _, rank := range []int{0, 2, 5, 6, 7} {
		_, _, err := cfg.Resolve(rank)
		assert.NoError(t, err, "rank %d should match", rank)
	}
	_, _, err := cfg.Resolve(3)
	assert.Error(t, err, "rank 3 is not in the set and should not match")
}

func TestRankAndOffsetSubstitution(t *testing.T) {
	cfg := parse(t, "3-5 /bin/echo task-%t-offset-%o")
	_, args, err := cfg.Resolve(4)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-4-offset-1"}, args)
}

func TestSingleQuotePreservesWhitespace(t *testing.T) {
	cfg := parse(t, "* /bin/echo 'hello world'")
	_, args, err := cfg.Resolve(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello world"}, args)
}

func TestBackslashEscapesLiteralCharacter(t *testing.T) {
	cfg := parse(t, `* /bin/echo a\ b`)
	_, args, err := cfg.Resolve(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a b"}, args)
}

func TestProgramWithoutSlashResolvesAgainstPATH(t *testing.T) {
	cfg := parse(t, "* echo hi")
	prog, _, err := cfg.Resolve(0)
	require.NoError(t, err)
	assert.Contains(t, prog, "echo")
}

func TestUnmatchedRankReturnsNotFound(t *testing.T) {
	cfg := parse(t, "0-1 /bin/echo hi")
	_, _, err := cfg.Resolve(9)
	require.Error(t, err)
}

func TestBlankAndCommentLinesAreSkipped(t *testing.T) {
	cfg := parse(t, "# a comment\n\n* /bin/echo ok")
	_, _, err := cfg.Resolve(0)
	require.NoError(t, err)
}

func TestFirstMatchingEntryWinsWhenOverlapping(t *testing.T) {
	cfg := parse(t, "0-2 /bin/echo first\n1 /bin/echo second")
	_, args, err := cfg.Resolve(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, args)
}
