package userdata

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wilhg/contentstate/pkg/store"
)

func TestSubContentOrder(t *testing.T) {
	cases := []struct {
		in      string
		n       int64
		numeric bool
	}{
		{"0", 0, true},
		{"", 0, true},
		{" 7 ", 7, true},
		{"10", 10, true},
		{"-3", -3, true},
		{"2a", 0, false},
		{"1.5", 0, false},
		{"c2a0d7f1-9f6e-4f0c-8f3e-1b2c3d4e5f60", 0, false},
	}
	for _, tc := range cases {
		n, ok := subContentOrder(tc.in)
		assert.Equal(t, tc.numeric, ok, "numeric(%q)", tc.in)
		if tc.numeric {
			assert.Equal(t, tc.n, n, "value(%q)", tc.in)
		}
	}
}

func TestAggregateNonNumericSortsLastByID(t *testing.T) {
	recs := []store.Record{
		{DataType: "a", SubContentID: "zeta", UserState: "z", Preload: true},
		{DataType: "b", SubContentID: "3", UserState: "3", Preload: true},
		{DataType: "c", SubContentID: "alpha", UserState: "al", Preload: true},
		{DataType: "d", SubContentID: "0", UserState: "0", Preload: true},
	}
	got := aggregate(recs)
	assert.Equal(t, []DeliveryEntry{{"d": "0"}, {"b": "3"}, {"c": "al"}, {"a": "z"}}, got)
}

func TestAggregateKeepsSameDataTypeEntriesSeparate(t *testing.T) {
	recs := []store.Record{
		{DataType: "state", SubContentID: "1", UserState: "one", Preload: true},
		{DataType: "state", SubContentID: "0", UserState: "zero", Preload: true},
	}
	got := aggregate(recs)
	assert.Equal(t, []DeliveryEntry{{"state": "zero"}, {"state": "one"}}, got)
}

func TestAggregateTiesBreakOnDataType(t *testing.T) {
	recs := []store.Record{
		{DataType: "state", SubContentID: "0", UserState: "s", Preload: true},
		{DataType: "answers", SubContentID: "0", UserState: "a", Preload: true},
		{DataType: "progress", SubContentID: "1", UserState: "p1", Preload: true},
		{DataType: "notes", SubContentID: "0", UserState: "n", Preload: true},
		{DataType: "progress", SubContentID: "01", UserState: "p01", Preload: true},
		{DataType: "x", SubContentID: "beta", UserState: "xb", Preload: true},
		{DataType: "b", SubContentID: "beta", UserState: "bb", Preload: true},
	}
	want := []DeliveryEntry{
		{"answers": "a"}, {"notes": "n"}, {"state": "s"},
		{"progress": "p01"}, {"progress": "p1"},
		{"b": "bb"}, {"x": "xb"},
	}
	assert.Equal(t, want, aggregate(recs))

	// Same result whatever order the backend returned.
	reversed := make([]store.Record, len(recs))
	for i, r := range recs {
		reversed[len(recs)-1-i] = r
	}
	assert.Equal(t, want, aggregate(reversed))
}

func TestAggregateNilInput(t *testing.T) {
	got := aggregate(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
