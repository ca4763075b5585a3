package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("ingest: missing required column")

const (
	colID        = "id_operacao"
	colDate      = "data_operacao"
	colGross     = "valor_bruto"
	colFactor    = "valor_fator"
	colAdValorem = "valor_ad_valorem"
	colIOF       = "valor_iof"
	colPIS       = "pis"
	colCSLL      = "csll"
	colCOFINS    = "cofins"
	colISSQN     = "issqn"
	colIRPJ      = "irpj"
	colFees      = "valor_tarifas"
	colNet       = "valor_liquido"
)

var headerAliases = map[string]string{
	"id":               colID,
	"operacao":         colID,
	"id_da_operacao":   colID,
	"data":             colDate,
	"data_da_operacao": colDate,
	"bruto":            colGross,
	"fator":            colFactor,
	"ad_valorem":       colAdValorem,
	"iof":              colIOF,
	"tarifas":          colFees,
	"liquido":          colNet,
}

var dateLayouts = []string{"02/01/2006", "2006-01-02", "02-01-2006", "02/01/06"}

// ParseOperations reads an operations CSV. The delimiter (';' or ',') and the encoding (UTF-8 or
// Latin-1) are detected from the content. Malformed rows are reported and skipped; only a missing
// required column or an unreadable file fails the whole parse.
func ParseOperations(r io.Reader) ([]Operation, []RowError, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: read csv: %w", err)
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	var src io.Reader = bytes.NewReader(raw)
	if !utf8.Valid(raw) {
		src = transform.NewReader(src, charmap.ISO8859_1.NewDecoder())
	}

	reader := csv.NewReader(bufio.NewReader(src))
	reader.Comma = detectDelimiter(raw)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		name := NormalizeHeader(h)
		if alias, ok := headerAliases[name]; ok {
			name = alias
		}
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	for _, required := range []string{colID, colDate} {
		if _, ok := index[required]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}

	var (
		ops     []Operation
		rowErrs []RowError
		seen    = map[string]int{}
		line    = 1
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Message: err.Error()})
			continue
		}
		if blank(record) {
			continue
		}
		op, rowErr := parseRecord(record, index, line)
		if rowErr != nil {
			rowErrs = append(rowErrs, *rowErr)
			continue
		}
		if first, dup := seen[op.ID]; dup {
			rowErrs = append(rowErrs, RowError{Line: line, Column: colID,
				Message: fmt.Sprintf("duplicate of line %d", first)})
			continue
		}
		seen[op.ID] = line
		ops = append(ops, op)
	}
	return ops, rowErrs, nil
}

func parseRecord(record []string, index map[string]int, line int) (Operation, *RowError) {
	field := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	op := Operation{ID: field(colID)}
	if op.ID == "" {
		return Operation{}, &RowError{Line: line, Column: colID, Message: "is required"}
	}
	date, err := ParseDate(field(colDate))
	if err != nil {
		return Operation{}, &RowError{Line: line, Column: colDate, Message: err.Error()}
	}
	op.Date = date

	amounts := []struct {
		col string
		dst *decimal.Decimal
	}{
		{colFactor, &op.Factor},
		{colAdValorem, &op.AdValorem},
		{colIOF, &op.IOF},
		{colPIS, &op.PIS},
		{colCSLL, &op.CSLL},
		{colCOFINS, &op.COFINS},
		{colISSQN, &op.ISSQN},
		{colIRPJ, &op.IRPJ},
		{colFees, &op.Fees},
		{colNet, &op.Net},
		{colGross, &op.Gross},
	}
	for _, a := range amounts {
		v, err := ParseAmount(field(a.col))
		if err != nil {
			return Operation{}, &RowError{Line: line, Column: a.col, Message: err.Error()}
		}
		if v.IsNegative() {
			return Operation{}, &RowError{Line: line, Column: a.col, Message: "must not be negative"}
		}
		*a.dst = v
	}
	if field(colGross) == "" {
		op.Gross = op.Net.Add(op.Factor).Add(op.AdValorem).Add(op.IOF).Add(op.Fees).
			Add(op.PIS).Add(op.COFINS).Add(op.CSLL).Add(op.ISSQN).Add(op.IRPJ)
	}
	return op, nil
}

// NormalizeHeader folds a column title to snake case ASCII: "Valor Líquido (R$)" becomes "valor_liquido_r".
func NormalizeHeader(h string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, h)
	if err != nil {
		folded = h
	}
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// ParseAmount parses Brazilian ("1.234,56", "R$ 10,00") and plain ("1234.56") amounts. Empty is zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "R$"))
	s = strings.ReplaceAll(s, " ", "")
	if s == "" || s == "-" {
		return decimal.Zero, nil
	}
	switch {
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	case strings.Count(s, ".") == 1 && len(s)-strings.Index(s, ".")-1 == 3:
		// "1.234" is a thousands separator, not 1.234.
		s = strings.ReplaceAll(s, ".", "")
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// ParseDate accepts dd/mm/yyyy, yyyy-mm-dd, dd-mm-yyyy and dd/mm/yy, ignoring a trailing time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("is required")
	}
	if i := strings.IndexAny(s, " T"); i > 0 {
		s = s[:i]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func detectDelimiter(raw []byte) rune {
	first := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		first = raw[:i]
	}
	if bytes.Count(first, []byte(";")) >= bytes.Count(first, []byte(",")) && bytes.Contains(first, []byte(";")) {
		return ';'
	}
	return ','
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
