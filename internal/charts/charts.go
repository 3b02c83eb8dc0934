// Package charts aggregates transactions into the pie and bar series shown on
// the charts page.
package charts

import (
	"fmt"
	"hash/fnv"

	"stockadmin/internal/core"
)

const (
	UnknownCompany = "Unknown"
	UnknownUser    = "Unknown User"
)

// Entry is a transaction joined with its company and user names.
type Entry struct {
	Company      string  `json:"company"`
	User         string  `json:"user"`
	SharesBought int64   `json:"sharesBought"`
	TotalPaid    float64 `json:"totalPaid"`
	Timestamp    int64   `json:"timestamp"`
}

type Slice struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
	Color string `json:"color"`
}

type Bar struct {
	Name         string  `json:"name"`
	SharesBought int64   `json:"sharesBought"`
	TotalPaid    float64 `json:"totalPaid"`
}

// Series is everything the charts page draws.
type Series struct {
	Pie []Slice `json:"pie"`
	Bar []Bar   `json:"bar"`
}

// Join resolves company and user names. Missing or empty names fall back to
// placeholder labels. The user label is carried along but no chart uses it.
func Join(txs []core.Transaction, companies, users map[string]string) []Entry {
	out := make([]Entry, len(txs))
	for i, tx := range txs {
		company := companies[tx.CompanyID]
		if company == "" {
			company = UnknownCompany
		}
		user := users[tx.UserID]
		if user == "" {
			user = UnknownUser
		}
		out[i] = Entry{
			Company:      company,
			User:         user,
			SharesBought: tx.SharesBought,
			TotalPaid:    tx.TotalPaid,
			Timestamp:    tx.Timestamp,
		}
	}
	return out
}

// Pie sums shares per company name, in order of first appearance.
func Pie(entries []Entry) []Slice {
	index := make(map[string]int)
	out := make([]Slice, 0)
	for _, e := range entries {
		if i, ok := index[e.Company]; ok {
			out[i].Value += e.SharesBought
			continue
		}
		index[e.Company] = len(out)
		out = append(out, Slice{Name: e.Company, Value: e.SharesBought, Color: Color(e.Company)})
	}
	return out
}

// Bars returns one bar per transaction. Bars are deliberately not grouped by
// company.
func Bars(entries []Entry) []Bar {
	out := make([]Bar, len(entries))
	for i, e := range entries {
		out[i] = Bar{Name: e.Company, SharesBought: e.SharesBought, TotalPaid: e.TotalPaid}
	}
	return out
}

func Build(txs []core.Transaction, companies, users map[string]string) Series {
	entries := Join(txs, companies, users)
	return Series{Pie: Pie(entries), Bar: Bars(entries)}
}

// Color picks a stable hex color for a label.
func Color(label string) string {
	h := fnv.New32a()
	h.Write([]byte(label))
	return fmt.Sprintf("#%06x", h.Sum32()&0xffffff)
}
