package ocr

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Category is a category the caller may assign.
type Category struct {
	ID   int64
	Name string
}

// hints maps a default category name to words that usually belong to it.
var hints = map[string][]string{
	"makanan":      {"nasi", "ayam", "mie", "mi", "bakso", "roti", "sate", "soto", "kopi", "teh", "susu", "air", "aqua", "snack", "indomie", "burger", "pizza", "gorengan", "martabak", "jus", "minum", "makan"},
	"transportasi": {"bensin", "pertalite", "pertamax", "solar", "tol", "parkir", "grab", "gojek", "ojek", "taksi", "taxi", "kereta", "krl", "busway", "transjakarta"},
	"belanja":      {"sabun", "sampo", "shampoo", "deterjen", "tisu", "pasta", "odol", "minyak", "gula", "beras", "telur", "baju", "kaos", "celana", "sepatu"},
	"tagihan":      {"listrik", "pln", "pdam", "internet", "wifi", "pulsa", "token", "bpjs", "indihome"},
	"hiburan":      {"bioskop", "cinema", "tiket", "netflix", "spotify", "game", "karaoke"},
	"kesehatan":    {"obat", "apotek", "vitamin", "klinik", "dokter", "masker", "paracetamol", "panadol"},
}

// Matcher guesses a category for a receipt line. Words that are close to a
// category name (edit distance under 40% of the longer word) or listed as a
// hint for it count as a match.
type Matcher struct {
	byName map[string]Category
	all    []Category
}

func NewMatcher(categories []Category) *Matcher {
	m := &Matcher{byName: make(map[string]Category, len(categories)), all: categories}
	for _, c := range categories {
		m.byName[strings.ToLower(strings.TrimSpace(c.Name))] = c
	}
	return m
}

// Match returns the best category for name.
func (m *Matcher) Match(name string) (Category, bool) {
	words := strings.Fields(strings.ToLower(name))
	if len(words) == 0 || len(m.all) == 0 {
		return Category{}, false
	}
	var (
		best      Category
		bestScore = 0.4
		found     bool
	)
	for _, w := range words {
		w = strings.Trim(w, ".,:-()")
		if len([]rune(w)) < 3 {
			continue
		}
		for _, c := range m.all {
			cn := strings.ToLower(c.Name)
			if score := distanceRatio(w, cn); score < bestScore {
				best, bestScore, found = c, score, true
			}
		}
	}
	if found {
		return best, true
	}
	for _, w := range words {
		for catName, keywords := range hints {
			c, ok := m.byName[catName]
			if !ok {
				continue
			}
			for _, k := range keywords {
				if w == k {
					return c, true
				}
			}
		}
	}
	return Category{}, false
}

func distanceRatio(a, b string) float64 {
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(longest)
}
