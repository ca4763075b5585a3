// Package period resolves DRE reporting periods into concrete date ranges.
package period

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-dre/internal/platform/httpx"
)

// Type enumerates the supported period granularities.
type Type string

const (
	Monthly   Type = "mensal"
	Quarterly Type = "trimestral"
	Annual    Type = "anual"
)

const (
	minYear = 1900
	maxYear = 9999
)

// ErrPeriodRequired indicates the request named no month, quarter or annual flag.
var ErrPeriodRequired = errors.New("period: month, quarter or annual is required")

// Request is the raw period selection as received from callers.
type Request struct {
	Year    int
	Month   *int
	Quarter *int
	Annual  bool
}

// Period is a resolved reporting window. Start and End are inclusive calendar dates in UTC.
// Quarter is also set on monthly periods to the enclosing quarter.
type Period struct {
	Year    int       `json:"ano"`
	Type    Type      `json:"tipo"`
	Month   int       `json:"mes,omitempty"`
	Quarter int       `json:"trimestre,omitempty"`
	Start   time.Time `json:"inicio"`
	End     time.Time `json:"fim"`
	Key     string    `json:"chave"`
}

type periodJSON struct {
	Year    int       `json:"ano"`
	Type    Type      `json:"tipo"`
	Month   int       `json:"mes,omitempty"`
	Quarter int       `json:"trimestre,omitempty"`
	Start   time.Time `json:"inicio"`
	End     time.Time `json:"fim"`
	Key     string    `json:"chave"`
}

// MarshalJSON emits the quarter only for quarterly periods.
func (p Period) MarshalJSON() ([]byte, error) {
	out := periodJSON(p)
	if p.Type != Quarterly {
		out.Quarter = 0
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the enclosing quarter of monthly periods.
func (p *Period) UnmarshalJSON(b []byte) error {
	var in periodJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*p = Period(in)
	if p.Type == Monthly && p.Month > 0 {
		p.Quarter = QuarterOf(p.Month)
	}
	return nil
}

// Resolve validates req and builds the matching Period.
func Resolve(req Request) (Period, error) {
	verr := &httpx.ValidationError{}
	if req.Year < minYear || req.Year > maxYear {
		verr.Add("year", fmt.Sprintf("must be between %d and %d", minYear, maxYear))
	}
	selected := 0
	if req.Month != nil {
		selected++
		if *req.Month < 1 || *req.Month > 12 {
			verr.Add("month", "must be between 1 and 12")
		}
	}
	if req.Quarter != nil {
		selected++
		if *req.Quarter < 1 || *req.Quarter > 4 {
			verr.Add("quarter", "must be between 1 and 4")
		}
	}
	if req.Annual {
		selected++
	}
	if selected > 1 {
		verr.Add("period", "only one of month, quarter or annual may be given")
	}
	if err := verr.OrNil(); err != nil {
		return Period{}, err
	}

	switch {
	case req.Month != nil:
		return Month(req.Year, *req.Month), nil
	case req.Quarter != nil:
		return Quarter(req.Year, *req.Quarter), nil
	case req.Annual:
		return Year(req.Year), nil
	default:
		return Period{}, ErrPeriodRequired
	}
}

// Month builds a monthly period. The caller guarantees 1 <= month <= 12.
func Month(year, month int) Period {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return Period{
		Year:    year,
		Type:    Monthly,
		Month:   month,
		Quarter: QuarterOf(month),
		Start:   start,
		End:     endOfMonth(year, month),
		Key:     fmt.Sprintf("%04d-%02d", year, month),
	}
}

// Quarter builds a quarterly period covering months 3q-2 through 3q.
func Quarter(year, quarter int) Period {
	first := 3*(quarter-1) + 1
	return Period{
		Year:    year,
		Type:    Quarterly,
		Quarter: quarter,
		Start:   time.Date(year, time.Month(first), 1, 0, 0, 0, 0, time.UTC),
		End:     endOfMonth(year, 3*quarter),
		Key:     fmt.Sprintf("%04d-Q%d", year, quarter),
	}
}

// Year builds an annual period.
func Year(year int) Period {
	return Period{
		Year:  year,
		Type:  Annual,
		Start: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC),
		Key:   fmt.Sprintf("%04d", year),
	}
}

// CurrentMonth returns the month containing now.
func CurrentMonth(now time.Time) Period {
	now = now.UTC()
	return Month(now.Year(), int(now.Month()))
}

// QuarterOf returns the quarter a month belongs to.
func QuarterOf(month int) int {
	return (month-1)/3 + 1
}

// Previous returns the period immediately before p with the same granularity.
func (p Period) Previous() Period {
	switch p.Type {
	case Monthly:
		if p.Month == 1 {
			return Month(p.Year-1, 12)
		}
		return Month(p.Year, p.Month-1)
	case Quarterly:
		if p.Quarter == 1 {
			return Quarter(p.Year-1, 4)
		}
		return Quarter(p.Year, p.Quarter-1)
	default:
		return Year(p.Year - 1)
	}
}

// Months lists the calendar months covered by p.
func (p Period) Months() []int {
	switch p.Type {
	case Monthly:
		return []int{p.Month}
	case Quarterly:
		first := 3*(p.Quarter-1) + 1
		return []int{first, first + 1, first + 2}
	default:
		return []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	}
}

// Quarters lists the quarters p touches.
func (p Period) Quarters() []int {
	switch p.Type {
	case Monthly, Quarterly:
		return []int{p.Quarter}
	default:
		return []int{1, 2, 3, 4}
	}
}

// Contains reports whether the calendar date of t lies within p.
func (p Period) Contains(t time.Time) bool {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return !d.Before(p.Start) && !d.After(p.End)
}

func endOfMonth(year, month int) time.Time {
	return time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}
