package identity

import (
	"fmt"
	"sort"

	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
)

// OneToOne is the outcome of pairing two equal-length columns positionally.
// Keys are the fmt.Sprint form of the values; partners keep their original
// values in first-seen order.
type OneToOne[A, B any] struct {
	AToB  bool
	BToA  bool
	MapAB map[string][]B
	MapBA map[string][]A
	// Key order of first appearance, for stable reports.
	OrderAB []string
	OrderBA []string
}

// CheckOneToOne reports whether every value of a is paired with exactly one
// distinct value of b, and the reverse. Columns of different length fail both
// directions with empty maps.
func CheckOneToOne[A, B any](a []A, b []B) OneToOne[A, B] {
	result := OneToOne[A, B]{
		MapAB: map[string][]B{},
		MapBA: map[string][]A{},
	}
	if len(a) != len(b) {
		return result
	}

	result.MapAB, result.OrderAB, result.AToB = pairUp(a, b)
	result.MapBA, result.OrderBA, result.BToA = pairUp(b, a)
	return result
}

func pairUp[K, V any](keys []K, values []V) (map[string][]V, []string, bool) {
	partners := make(map[string][]V)
	seen := make(map[string]map[string]struct{})
	var order []string
	unique := true

	for i := range keys {
		key := fmt.Sprint(keys[i])
		value := fmt.Sprint(values[i])

		set, ok := seen[key]
		if !ok {
			set = make(map[string]struct{})
			seen[key] = set
			order = append(order, key)
		}
		if _, dup := set[value]; dup {
			continue
		}
		set[value] = struct{}{}
		partners[key] = append(partners[key], values[i])
		if len(partners[key]) > 1 {
			unique = false
		}
	}
	return partners, order, unique
}

// PartnerReport groups keys by how many distinct partners they have.
func PartnerReport[V any](partners map[string][]V, order []string) map[int]models.PartnerBucket {
	if len(order) == 0 {
		order = make([]string, 0, len(partners))
		for key := range partners {
			order = append(order, key)
		}
		sort.Strings(order)
	}

	report := make(map[int]models.PartnerBucket)
	for _, key := range order {
		n := len(partners[key])
		bucket := report[n]
		bucket.Count++
		bucket.Keys = append(bucket.Keys, key)
		report[n] = bucket
	}
	return report
}

// Audit names a check and folds both partner reports into it.
func Audit[A, B any](name string, a []A, b []B) models.CorrespondenceAudit {
	check := CheckOneToOne(a, b)
	return models.CorrespondenceAudit{
		Name:     name,
		AToB:     check.AToB,
		BToA:     check.BToA,
		ReportAB: PartnerReport(check.MapAB, check.OrderAB),
		ReportBA: PartnerReport(check.MapBA, check.OrderBA),
	}
}
