package caldate

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-sql/civil"
)

// Years a Date can hold. Anything outside is treated as absent.
const (
	MinYear = 1
	MaxYear = 9999
)

// Date is an optional calendar date. The zero value is absent.
type Date struct {
	d  civil.Date
	ok bool
}

// Of builds a present Date. An impossible day yields an absent Date.
func Of(year int, month time.Month, day int) Date {
	return FromCivil(civil.Date{Year: year, Month: month, Day: day})
}

// FromCivil wraps d, treating an invalid or out-of-range civil date as
// absent.
func FromCivil(d civil.Date) Date {
	if !d.IsValid() || d.Year < MinYear || d.Year > MaxYear {
		return Date{}
	}
	return Date{d: d, ok: true}
}

// Parse reads s with ParseLocal. Malformed input is absent, not an error.
func Parse(s string) Date {
	d, err := ParseLocal(s)
	if err != nil {
		return Date{}
	}
	return FromCivil(d)
}

// MustParse is Parse for literals known to be well formed.
func MustParse(s string) Date {
	d := Parse(s)
	if !d.ok {
		panic(fmt.Sprintf("caldate: invalid date literal %q", s))
	}
	return d
}

// IsSet reports whether the date is present.
func (d Date) IsSet() bool { return d.ok }

// Civil returns the underlying calendar date.
func (d Date) Civil() (civil.Date, bool) { return d.d, d.ok }

// String returns "YYYY-MM-DD", or "" when absent.
func (d Date) String() string {
	if !d.ok {
		return ""
	}
	return d.d.String()
}

// Buddhist renders the date DD/MM/YYYY (B.E.) or the placeholder.
func (d Date) Buddhist() string {
	if !d.ok {
		return Placeholder
	}
	return FormatBuddhist(d.d)
}

// Before reports whether d is strictly before o. Absent dates never compare.
func (d Date) Before(o Date) bool { return d.ok && o.ok && d.d.Before(o.d) }

// After reports whether d is strictly after o. Absent dates never compare.
func (d Date) After(o Date) bool { return d.ok && o.ok && d.d.After(o.d) }

// Equal reports whether both dates are absent or both name the same day.
func (d Date) Equal(o Date) bool { return d.ok == o.ok && (!d.ok || d.d == o.d) }

// Month returns the "YYYY-MM" bucket key of a present date.
func (d Date) Month() string {
	if !d.ok {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", d.d.Year, int(d.d.Month))
}

func (d Date) MarshalJSON() ([]byte, error) {
	if !d.ok {
		return []byte("null"), nil
	}
	return json.Marshal(d.d.String())
}

// UnmarshalJSON accepts null, "" or a date string. Strings that do not parse
// leave the date absent rather than failing the whole payload.
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("calendar date must be a string: %w", err)
	}
	*d = Parse(s)
	return nil
}

// Scan implements sql.Scanner for DATE and TEXT columns.
func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
	case time.Time:
		// DATE values arrive as midnight UTC; take the components as stored.
		*d = FromCivil(civil.Date{Year: v.Year(), Month: v.Month(), Day: v.Day()})
	case string:
		*d = Parse(v)
	case []byte:
		*d = Parse(string(v))
	default:
		return fmt.Errorf("caldate: cannot scan %T", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) {
	if !d.ok {
		return nil, nil
	}
	return d.d.String(), nil
}
