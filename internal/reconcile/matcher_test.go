package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subsync/internal/csvfile"
	"subsync/internal/store"
)

func row(email, last, first string) csvfile.Row {
	return csvfile.Row{
		Status:        "継続",
		ShipLastName:  last,
		ShipFirstName: first,
		OrderEmail:    email,
	}
}

func TestMatchEmailAndName(t *testing.T) {
	id := NewIdentity("hanako@example.com", "佐藤", "花子")
	rows := []csvfile.Row{
		row("other@example.com", "田中", "太郎"),
		row("hanako@example.com", "佐藤", "花子"),
	}

	res := Match(id, rows)
	require.True(t, res.Matched())
	assert.Equal(t, store.MatchEmailAndName, res.Method)
	assert.Equal(t, "hanako@example.com", res.Row.OrderEmail)
}

func TestMatchFullTripleBeatsEarlierEmailOnly(t *testing.T) {
	// An email-only candidate earlier in the file must not shadow a full
	// triple match later on: tiers are strict priority, not scan order.
	id := NewIdentity("hanako@example.com", "佐藤", "花子")
	rows := []csvfile.Row{
		row("hanako@example.com", "別の", "名前"),
		row("hanako@example.com", "佐藤", "花子"),
	}

	res := Match(id, rows)
	require.True(t, res.Matched())
	assert.Equal(t, store.MatchEmailAndName, res.Method)
	assert.Equal(t, "佐藤", res.Row.ShipLastName)
}

func TestMatchEmailOnly(t *testing.T) {
	id := NewIdentity("hanako@example.com", "佐藤", "花子")
	rows := []csvfile.Row{row("hanako@example.com", "結婚後", "花子")}

	res := Match(id, rows)
	require.True(t, res.Matched())
	assert.Equal(t, store.MatchEmailOnly, res.Method)
}

func TestMatchEmailCaseInsensitiveAndTrimmed(t *testing.T) {
	id := NewIdentity("  Hanako@Example.COM ", " 佐藤 ", " 花子 ")
	rows := []csvfile.Row{row("hanako@example.com", "佐藤", "花子")}

	res := Match(id, rows)
	require.True(t, res.Matched())
	assert.Equal(t, store.MatchEmailAndName, res.Method)
}

func TestMatchSingleNameCandidate(t *testing.T) {
	id := NewIdentity("old-address@example.com", "佐藤", "花子")
	rows := []csvfile.Row{
		row("another@example.com", "田中", "太郎"),
		row("hanako@example.com", "佐藤", "花子"),
	}

	res := Match(id, rows)
	require.True(t, res.Matched())
	assert.Equal(t, store.MatchNameOnly, res.Method)
	assert.Equal(t, "hanako@example.com", res.Row.OrderEmail)
}

func TestMatchAmbiguousNeverAutoPicks(t *testing.T) {
	id := NewIdentity("old-address@example.com", "佐藤", "花子")
	rows := []csvfile.Row{
		row("first@example.com", "佐藤", "花子"),
		row("second@example.com", "佐藤", "花子"),
	}

	res := Match(id, rows)
	assert.False(t, res.Matched())
	require.True(t, res.Ambiguous())
	assert.Equal(t, []string{"first@example.com", "second@example.com"}, res.CandidateEmails)
}

func TestMatchNoCandidates(t *testing.T) {
	id := NewIdentity("nobody@example.com", "存在", "しない")
	rows := []csvfile.Row{row("hanako@example.com", "佐藤", "花子")}

	res := Match(id, rows)
	assert.False(t, res.Matched())
	assert.False(t, res.Ambiguous())
}

func TestMatchFirstRowWinsWithinTier(t *testing.T) {
	id := NewIdentity("hanako@example.com", "佐藤", "花子")
	first := row("hanako@example.com", "旧姓", "花子")
	first.OrderNumber = "ORD-1"
	second := row("hanako@example.com", "旧姓", "花子")
	second.OrderNumber = "ORD-2"

	res := Match(id, []csvfile.Row{first, second})
	require.True(t, res.Matched())
	assert.Equal(t, "ORD-1", res.Row.OrderNumber)
}

func TestMatchDirectHasNoNameOnlyTier(t *testing.T) {
	// Revocation checks require an email anchor; a clean name-only hit must
	// not count as a direct match.
	id := NewIdentity("hanako@example.com", "佐藤", "花子")
	rows := []csvfile.Row{row("different@example.com", "佐藤", "花子")}

	_, ok := MatchDirect(id, rows)
	assert.False(t, ok)
}

func TestMatchDirectEmailOnly(t *testing.T) {
	id := NewIdentity("hanako@example.com", "佐藤", "花子")
	rows := []csvfile.Row{row("HANAKO@example.com", "別の", "人物")}

	matched, ok := MatchDirect(id, rows)
	require.True(t, ok)
	assert.Equal(t, "HANAKO@example.com", matched.OrderEmail)
}
