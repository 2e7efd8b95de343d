package address

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPLoader downloads the dataset as a JSON array. Both this package's
// field names and the widely used tambon/amphoe/zipcode names are accepted.
type HTTPLoader struct {
	URL    string
	Client *http.Client
}

func NewHTTPLoader(url string) *HTTPLoader {
	return &HTTPLoader{URL: url, Client: &http.Client{Timeout: 30 * time.Second}}
}

type datasetRow struct {
	Subdistrict string          `json:"subdistrict"`
	Tambon      string          `json:"tambon"`
	District    string          `json:"district"`
	Amphoe      string          `json:"amphoe"`
	Province    string          `json:"province"`
	PostalCode  json.RawMessage `json:"postal_code"`
	Zipcode     json.RawMessage `json:"zipcode"`
}

// entry maps a row to an Entry. In the tambon/amphoe layout "district"
// names the subdistrict.
func (r datasetRow) entry() Entry {
	e := Entry{
		Subdistrict: r.Subdistrict,
		District:    r.District,
		Province:    strings.TrimSpace(r.Province),
		PostalCode:  code(r.PostalCode),
	}
	if r.Amphoe != "" {
		e.Subdistrict = r.District
		e.District = r.Amphoe
	}
	if r.Tambon != "" {
		e.Subdistrict = r.Tambon
	}
	if e.PostalCode == "" {
		e.PostalCode = code(r.Zipcode)
	}
	e.Subdistrict = strings.TrimSpace(e.Subdistrict)
	e.District = strings.TrimSpace(e.District)
	return e
}

// code reads a postal code written either as a string or a number.
func code(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func (l *HTTPLoader) Load(ctx context.Context) ([]Entry, error) {
	if l.URL == "" {
		return nil, fmt.Errorf("address dataset url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build dataset request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch dataset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch dataset: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rows []datasetRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		if e := r.entry(); e.Subdistrict != "" || e.District != "" {
			entries = append(entries, e)
		}
	}
	return entries, nil
}
