package reconcile

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error", nil, ""},
		{"unknown error", errors.New("something exploded"), "ERR000"},
		{"encoding beats generic decode", errors.New("decode export.csv: no supported encoding matched (tried shift_jis, euc-jp)"), "FILE001"},
		{"decode failure", errors.New("decode export.csv: unexpected EOF"), "FILE002"},
		{"file too large", errors.New("file too large: http: request body too large"), "FILE003"},
		{"no file", errors.New("no file provided: http: no such file"), "FILE004"},
		{"missing columns", &SchemaError{Missing: []string{"注文者 メールアドレス"}}, "VAL001"},
		{"unknown pool", errors.New(`unknown applicant pool "vip"`), "VAL002"},
		{"record missing", errors.New("record not found"), "REC001"},
		{"case insensitive", errors.New("ERROR: duplicate key value violates UNIQUE CONSTRAINT"), "DB001"},
		{"upload in flight", errors.New("upload already in progress"), "RATE002"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, MapError(tt.err).Code)
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(errors.New("record not found"))
	assert.Contains(t, got, "Code: REC001")
	assert.Contains(t, got, "does not exist")

	assert.Empty(t, FormatUserError(nil))
}

func TestUserErrorUnwrap(t *testing.T) {
	base := errors.New("connection refused")
	wrapped := NewUserError(fmt.Errorf("ping database: %w", base))

	assert.Equal(t, "DB002", wrapped.User.Code)
	assert.ErrorIs(t, wrapped, base)

	assert.Nil(t, NewUserError(nil))
}
