// Package csvfile decodes subscription-status exports into fixed-shape rows.
//
// The export is produced by an external spreadsheet tool whose text encoding
// depends on the operator's OS and is not declared anywhere in the file, so
// decoding tries a fixed list of encodings in order and accepts the first one
// that parses cleanly. Rows keep their file order; downstream matching relies
// on first-match-wins scanning, so the order must never be changed.
package csvfile

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
)

// Column names as they appear in the export header. The upstream tool emits
// Japanese headers; they are part of the external contract and are matched
// exactly (after whitespace trimming).
const (
	ColStatus      = "定期ステータス"
	ColLastName    = "配送先 姓"
	ColFirstName   = "配送先 名"
	ColFullName    = "配送先 名前"
	ColEmail       = "注文者 メールアドレス"
	ColOrderNumber = "注文番号"
)

// StatusActive is the status value marking a continuing subscription.
// Anything else, including an empty status, counts as inactive.
const StatusActive = "継続"

// Row is one data line of the export. Fields for absent columns are left
// empty rather than treated as an error; the upstream export has grown and
// shrunk columns over time and rows must survive that.
type Row struct {
	// Line is the 1-based line number in the source file, header included.
	Line int

	Status        string
	ShipLastName  string
	ShipFirstName string
	ShipFullName  string
	OrderEmail    string
	OrderNumber   string
}

// DecodeError reports that a file could not be read under any supported
// encoding, or could not be opened at all.
type DecodeError struct {
	Path  string
	Tried []string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("decode %s: no supported encoding matched (tried %s)",
		e.Path, strings.Join(e.Tried, ", "))
}

func (e *DecodeError) Unwrap() error { return e.Err }

// candidate pairs an encoding name with its x/text decoder constructor.
// A fresh decoder is needed per attempt because transformers carry state.
type candidate struct {
	name string
	dec  func() *encoding.Decoder
}

// candidates lists the supported encodings in trial order. Shift_JIS here is
// x/text's cp932 superset, covering both the cp932 and plain Shift_JIS
// exports seen in the wild; EUC-JP covers the older Unix-side exports.
func candidates() []candidate {
	return []candidate{
		{name: "shift_jis", dec: japanese.ShiftJIS.NewDecoder},
		{name: "euc-jp", dec: japanese.EUCJP.NewDecoder},
		{name: "utf-8-bom", dec: unicode.UTF8BOM.NewDecoder},
		{name: "utf-8", dec: unicode.UTF8.NewDecoder},
	}
}

// DecodeFile reads the export at path, trying each supported encoding in
// order, and returns the trimmed header plus all data rows in file order.
// An empty file yields empty results, not an error. A file that is missing
// or unreadable under every encoding yields a *DecodeError.
func DecodeFile(path string) ([]string, []Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &DecodeError{Path: path, Err: err}
	}
	return Decode(path, data)
}

// Decode is DecodeFile over in-memory data. The name is used only for error
// reporting.
func Decode(name string, data []byte) ([]string, []Row, error) {
	var tried []string
	for _, c := range candidates() {
		tried = append(tried, c.name)

		text, ok := decodeStrict(c.dec(), data)
		if !ok {
			continue
		}

		records, err := parseRecords(text)
		if err != nil {
			continue
		}

		headers, rows := buildRows(records)
		return headers, rows, nil
	}
	return nil, nil, &DecodeError{Path: name, Tried: tried}
}

// decodeStrict decodes data and reports whether the decode was clean.
// x/text decoders substitute U+FFFD for bytes they cannot map instead of
// returning an error, so a replacement rune in the output marks the encoding
// as wrong for this file. None of the supported source encodings can encode
// U+FFFD itself, which makes the check unambiguous for legacy inputs.
func decodeStrict(dec *encoding.Decoder, data []byte) (string, bool) {
	out, err := dec.Bytes(data)
	if err != nil {
		return "", false
	}
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", false
	}
	if !utf8.Valid(out) {
		return "", false
	}
	return string(out), true
}

// parseRecords parses decoded text as delimited rows. Ragged rows are
// tolerated; short rows fail closed to empty field values later.
func parseRecords(text string) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

// buildRows converts raw records into header names and fixed-shape rows.
// The first record is the header; each remaining record is looked up by
// column name, with absent or short columns yielding "".
func buildRows(records [][]string) ([]string, []Row) {
	if len(records) == 0 {
		return nil, nil
	}

	headers := make([]string, len(records[0]))
	index := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		h = strings.TrimSpace(h)
		headers[i] = h
		if _, exists := index[h]; !exists {
			index[h] = i
		}
	}

	cell := func(record []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	rows := make([]Row, 0, len(records)-1)
	for n, record := range records[1:] {
		rows = append(rows, Row{
			Line:          n + 2,
			Status:        cell(record, ColStatus),
			ShipLastName:  cell(record, ColLastName),
			ShipFirstName: cell(record, ColFirstName),
			ShipFullName:  cell(record, ColFullName),
			OrderEmail:    cell(record, ColEmail),
			OrderNumber:   cell(record, ColOrderNumber),
		})
	}
	return headers, rows
}
