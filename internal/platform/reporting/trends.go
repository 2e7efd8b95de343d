package reporting

import (
	"errors"
	"fmt"
	"sort"

	"github.com/golang-sql/civil"

	"github.com/idclinic/idclinic/internal/domain/patient"
	"github.com/idclinic/idclinic/pkg/caldate"
)

// Range is an inclusive date range. A missing bound is unbounded.
type Range struct {
	From caldate.Date `json:"from"`
	To   caldate.Date `json:"to"`
}

// Contains reports whether d falls within r. An absent d is never contained.
func (r Range) Contains(d caldate.Date) bool {
	return d.IsSet() && !d.Before(r.From) && !d.After(r.To)
}

// Entry is one row behind a report bucket.
type Entry struct {
	PatientID int64        `json:"patient_id"`
	HN        string       `json:"hn"`
	Name      string       `json:"name"`
	Category  Category     `json:"category"`
	Date      caldate.Date `json:"date"`
	Detail    string       `json:"detail"`
}

// Entries lists the occurrences of category within r across ps, ordered by
// date and then by input order.
func Entries(ps []*patient.Patient, category Category, r Range) []Entry {
	out := []Entry{}
	def := FindCategory(category)
	if def == nil {
		return out
	}
	for _, p := range ps {
		for _, d := range def.extract(p) {
			if !r.Contains(d.date) {
				continue
			}
			out = append(out, Entry{
				PatientID: p.ID,
				HN:        p.HN,
				Name:      p.FullName(),
				Category:  category,
				Date:      d.date,
				Detail:    d.detail,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// MonthBucket holds the per-category counts for one calendar month.
type MonthBucket struct {
	Month  string           `json:"month"`
	Counts map[Category]int `json:"counts"`
}

// MaxTrendMonths bounds the number of buckets one trends report can hold.
const MaxTrendMonths = 1200

var ErrTrendSpan = errors.New("trend range too wide")

// Trends buckets every category's occurrences within r by calendar month.
// Months run without gaps from the earliest to the latest occurrence, and
// every bucket carries a count for every category. A span longer than
// MaxTrendMonths is refused with ErrTrendSpan; narrow r to report on it.
func Trends(ps []*patient.Patient, r Range) ([]MonthBucket, error) {
	counts := map[civil.Date]map[Category]int{}
	var first, last civil.Date
	for _, def := range Categories {
		for _, p := range ps {
			for _, d := range def.extract(p) {
				if !r.Contains(d.date) {
					continue
				}
				c, _ := d.date.Civil()
				m := civil.Date{Year: c.Year, Month: c.Month, Day: 1}
				if counts[m] == nil {
					if len(counts) == 0 || m.Before(first) {
						first = m
					}
					if len(counts) == 0 || m.After(last) {
						last = m
					}
					counts[m] = map[Category]int{}
				}
				counts[m][def.ID]++
			}
		}
	}
	if len(counts) == 0 {
		return []MonthBucket{}, nil
	}

	span := (last.Year-first.Year)*12 + int(last.Month) - int(first.Month) + 1
	if span > MaxTrendMonths {
		return nil, fmt.Errorf("%w: %d months from %s to %s, at most %d",
			ErrTrendSpan, span, monthKey(first), monthKey(last), MaxTrendMonths)
	}

	out := make([]MonthBucket, 0, span)
	for cur := first; !cur.After(last); cur = caldate.AddMonths(cur, 1) {
		bucket := MonthBucket{Month: monthKey(cur), Counts: make(map[Category]int, len(Categories))}
		for _, def := range Categories {
			bucket.Counts[def.ID] = counts[cur][def.ID]
		}
		out = append(out, bucket)
	}
	return out, nil
}

func monthKey(d civil.Date) string {
	return fmt.Sprintf("%04d-%02d", d.Year, int(d.Month))
}
