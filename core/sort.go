package core

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortRecords sorts records in place by the sort keys, earlier keys taking precedence.
// The sort is stable, so ties keep their collection order.
//
// Numbers compare numerically, strings with a locale-neutral collation.
// Undefined values sort before defined ones, numbers before strings, and
// other mismatched kinds are treated as equal.
func SortRecords(records []Record, sorting []SortField) {
	if len(sorting) == 0 || len(records) < 2 {
		return
	}
	// collators keep internal buffers; one per call
	col := collate.New(language.Und)
	sort.SliceStable(records, func(i, j int) bool {
		for _, key := range sorting {
			cmp := compareForSort(col, records[i][key.Field], records[j][key.Field])
			if cmp == 0 {
				continue
			}
			if key.Direction == SortDesc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func compareForSort(col *collate.Collator, a, b any) int {
	ua, ub := isUndefined(a), isUndefined(b)
	switch {
	case ua && ub:
		return 0
	case ua:
		return -1
	case ub:
		return 1
	}

	na, aNum := toNumber(a)
	nb, bNum := toNumber(b)
	if aNum && bNum {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	}

	sa, aStr := a.(string)
	sb, bStr := b.(string)
	switch {
	case aStr && bStr:
		return col.CompareString(sa, sb)
	case aNum && bStr:
		return -1
	case aStr && bNum:
		return 1
	}

	if cmp, ok := compareOrdered(a, b); ok {
		return cmp
	}
	return 0
}
