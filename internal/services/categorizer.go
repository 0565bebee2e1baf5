package services

import (
	"strings"

	"balanz/internal/core"
)

// Categorizer assigns category ids to transactions from keyword rules over
// the narration and merchant fields. Rules are checked in order; the first
// match wins. It never overrides an already assigned category; the storage
// layer enforces that too.
type Categorizer struct {
	rules []categoryRule
}

type categoryRule struct {
	categoryID string
	income     bool
	keywords   []string
}

// NewCategorizer returns a categorizer with the default rule set for the
// seeded categories.
func NewCategorizer() *Categorizer {
	return &Categorizer{rules: []categoryRule{
		{categoryID: "salary", income: true, keywords: []string{"salary", "payroll", "wages"}},
		{categoryID: "food-dining", keywords: []string{"restaurant", "eatery", "cafe", "food", "kfc", "chicken republic", "dominos"}},
		{categoryID: "transportation", keywords: []string{"uber", "bolt", "taxi", "fuel", "filling station", "transport"}},
		{categoryID: "bills-utilities", keywords: []string{"electricity", "phcn", "dstv", "gotv", "internet", "airtime", "data bundle", "utility"}},
		{categoryID: "entertainment", keywords: []string{"netflix", "spotify", "cinema", "showmax", "game"}},
		{categoryID: "health", keywords: []string{"pharmacy", "hospital", "clinic", "medic"}},
		{categoryID: "shopping", keywords: []string{"jumia", "konga", "store", "shop", "market", "supermarket", "mall"}},
		{categoryID: "transfers", keywords: []string{"transfer", "trf", "nip"}},
	}}
}

// Categorize returns the category id for the transaction, or
// "uncategorized" when no rule matches.
func (c *Categorizer) Categorize(t core.Transaction) string {
	haystack := strings.ToLower(t.Description + " " + t.Merchant)
	credit := t.AmountMinor > 0
	for _, rule := range c.rules {
		if rule.income != credit && rule.income {
			continue
		}
		for _, kw := range rule.keywords {
			if strings.Contains(haystack, kw) {
				return rule.categoryID
			}
		}
	}
	if credit {
		return "other-income"
	}
	return "uncategorized"
}
