package reports

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAccountActivityQueryBoundsDatesInsideLineSet(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	query, args := accountActivityQuery(&from, &until)

	require.Len(t, args, 2)
	open := strings.Index(query, "LEFT JOIN (")
	clos := strings.Index(query, ") lines ON")
	require.Greater(t, clos, open, "line set must be a derived table")

	// Both bounds live inside the derived table, where they filter the
	// joined lines instead of the outer join's ON clause.
	inner := query[open:clos]
	require.Contains(t, inner, "WHERE je.date >= $1 AND je.date <= $2")

	outer := query[clos:]
	require.Contains(t, outer, "WHERE a.postable")
	require.NotContains(t, outer, "je.date")
}

func TestAccountActivityQueryUntilOnly(t *testing.T) {
	until := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	query, args := accountActivityQuery(nil, &until)

	require.Len(t, args, 1)
	require.Contains(t, query, "je.date <= $1")
	require.NotContains(t, query, "je.date >=")
}

func TestAccountActivityQueryUnbounded(t *testing.T) {
	query, args := accountActivityQuery(nil, nil)

	require.Empty(t, args)
	require.NotContains(t, query, "je.date")
	require.Contains(t, query, "WHERE a.postable")
}
