package userdata

import (
	"sort"
	"strconv"
	"strings"

	"github.com/wilhg/contentstate/pkg/store"
)

// normalizeSubContentID maps the empty id onto the top-level sentinel.
func normalizeSubContentID(id string) string {
	if strings.TrimSpace(id) == "" {
		return store.TopLevelSubContentID
	}
	return id
}

// subContentOrder parses a sub-content id as a decimal integer. Ids that do
// not parse report ok=false and order after every numeric id.
func subContentOrder(id string) (n int64, ok bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(normalizeSubContentID(id)), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// aggregate drops records not marked for preload, orders the rest by numeric
// sub-content id and emits one entry per record. Entries sharing a dataType
// stay separate so each keeps its position. Ties break on dataType, then on
// the raw sub-content id, so the order never depends on the backend.
func aggregate(recs []store.Record) []DeliveryEntry {
	type keyed struct {
		rec     store.Record
		n       int64
		numeric bool
	}
	kept := make([]keyed, 0, len(recs))
	for _, r := range recs {
		if !r.Preload {
			continue
		}
		n, ok := subContentOrder(r.SubContentID)
		kept = append(kept, keyed{rec: r, n: n, numeric: ok})
	}
	sort.Slice(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.numeric != b.numeric {
			return a.numeric
		}
		if a.numeric && a.n != b.n {
			return a.n < b.n
		}
		if !a.numeric && a.rec.SubContentID != b.rec.SubContentID {
			return a.rec.SubContentID < b.rec.SubContentID
		}
		if a.rec.DataType != b.rec.DataType {
			return a.rec.DataType < b.rec.DataType
		}
		return a.rec.SubContentID < b.rec.SubContentID
	})
	out := make([]DeliveryEntry, 0, len(kept))
	for _, k := range kept {
		out = append(out, DeliveryEntry{k.rec.DataType: k.rec.UserState})
	}
	return out
}
