package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"subsync/internal/csvfile"
)

func TestClassifySplitsOnStatus(t *testing.T) {
	rows := []csvfile.Row{
		{Status: "継続", OrderEmail: "a@example.com"},
		{Status: "停止", OrderEmail: "b@example.com"},
		{Status: " 継続 ", OrderEmail: "c@example.com"},
		{Status: "", OrderEmail: "d@example.com"},
		{Status: "スキップ", OrderEmail: "e@example.com"},
	}

	set := Classify(rows)
	assert.Len(t, set.Active, 2)
	assert.Len(t, set.Inactive, 3)
	// File order survives classification.
	assert.Equal(t, "a@example.com", set.Active[0].OrderEmail)
	assert.Equal(t, "c@example.com", set.Active[1].OrderEmail)
	assert.Equal(t, "b@example.com", set.Inactive[0].OrderEmail)
}

func TestClassifyEmptyInput(t *testing.T) {
	set := Classify(nil)
	assert.Empty(t, set.Active)
	assert.Empty(t, set.Inactive)
}

func TestMissingColumns(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    []string
	}{
		{
			name: "all present",
			headers: []string{
				csvfile.ColStatus, csvfile.ColLastName, csvfile.ColFirstName,
				csvfile.ColFullName, csvfile.ColEmail, csvfile.ColOrderNumber,
			},
			want: nil,
		},
		{
			name:    "email missing",
			headers: []string{csvfile.ColStatus, csvfile.ColLastName, csvfile.ColFirstName, csvfile.ColFullName},
			want:    []string{csvfile.ColEmail},
		},
		{
			name:    "order number is optional",
			headers: []string{csvfile.ColStatus, csvfile.ColLastName, csvfile.ColFirstName, csvfile.ColFullName, csvfile.ColEmail},
			want:    nil,
		},
		{
			name:    "everything missing",
			headers: []string{"unrelated"},
			want: []string{
				csvfile.ColStatus, csvfile.ColLastName, csvfile.ColFirstName,
				csvfile.ColFullName, csvfile.ColEmail,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MissingColumns(tt.headers))
		})
	}
}
