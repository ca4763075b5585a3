// Package ingest imports operation CSV exports into the operacoes table.
package ingest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Operation is one imported operation row.
type Operation struct {
	ID        string
	Date      time.Time
	Gross     decimal.Decimal
	Factor    decimal.Decimal
	AdValorem decimal.Decimal
	IOF       decimal.Decimal
	PIS       decimal.Decimal
	CSLL      decimal.Decimal
	COFINS    decimal.Decimal
	ISSQN     decimal.Decimal
	IRPJ      decimal.Decimal
	Fees      decimal.Decimal
	Net       decimal.Decimal
}

// RowError reports a rejected CSV line. Line counts the header as line 1.
type RowError struct {
	Line    int    `json:"line"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Column, e.Message)
}

// Result summarises an import.
type Result struct {
	BatchID  uuid.UUID  `json:"batchId"`
	Inserted int        `json:"inserted"`
	Updated  int        `json:"updated"`
	Years    []int      `json:"years"`
	Errors   []RowError `json:"errors,omitempty"`
}
