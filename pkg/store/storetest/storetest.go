// Package storetest holds the behavioural checks every store.Backend must pass.
package storetest

import (
	"context"
	"sort"
	"testing"

	"github.com/wilhg/contentstate/pkg/store"
)

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) store.Backend

var (
	alice = store.User{ID: "alice", Name: "Alice"}
	bob   = store.User{ID: "bob", Name: "Bob"}
	admin = store.User{ID: "admin", Type: "admin"}
)

// Run executes the conformance suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, b store.Backend)
	}{
		{"UpsertRoundTrip", testUpsertRoundTrip},
		{"LoadMissing", testLoadMissing},
		{"KeyIsolation", testKeyIsolation},
		{"DeleteByUser", testDeleteByUser},
		{"DeleteAllForContent", testDeleteAllForContent},
		{"DeleteIdempotent", testDeleteIdempotent},
		{"CompletionUpsert", testCompletionUpsert},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newBackend(t))
		})
	}
}

func rec(contentID string, u store.User, dataType, sub, state string, preload bool) store.Record {
	return store.Record{ContentID: contentID, UserID: u.ID, DataType: dataType, SubContentID: sub, UserState: state, Preload: preload}
}

func save(t *testing.T, b store.Backend, r store.Record, u store.User) {
	t.Helper()
	if err := b.SaveUserData(context.Background(), r, u); err != nil {
		t.Fatalf("save %+v: %v", r.Key(), err)
	}
}

func testUpsertRoundTrip(t *testing.T, b store.Backend) {
	ctx := context.Background()
	save(t, b, rec("c1", alice, "state", "0", `{"progress":1}`, true), alice)

	got, ok, err := b.LoadUserData(ctx, "c1", "state", "0", alice)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got.UserState != `{"progress":1}` || !got.Preload {
		t.Fatalf("load=%+v ok=%v", got, ok)
	}

	save(t, b, rec("c1", alice, "state", "0", `{"progress":2}`, false), alice)
	got, ok, err = b.LoadUserData(ctx, "c1", "state", "0", alice)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got.UserState != `{"progress":2}` || got.Preload {
		t.Fatalf("after upsert load=%+v ok=%v", got, ok)
	}

	all, err := b.ListRecordsForContent(ctx, "c1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("len=%d want 1 after upsert", len(all))
	}
}

func testLoadMissing(t *testing.T, b store.Backend) {
	_, ok, err := b.LoadUserData(context.Background(), "nope", "state", "0", alice)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected absent record")
	}
}

func testKeyIsolation(t *testing.T, b store.Backend) {
	ctx := context.Background()
	save(t, b, rec("c1", alice, "state", "0", "a0", true), alice)
	save(t, b, rec("c1", alice, "state", "1", "a1", true), alice)
	save(t, b, rec("c1", alice, "answers", "0", "ans", false), alice)
	save(t, b, rec("c1", bob, "state", "0", "b0", true), bob)
	save(t, b, rec("c2", alice, "state", "0", "other", true), alice)

	list, err := b.ListRecordsForContent(ctx, "c1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	states := make([]string, 0, len(list))
	for _, r := range list {
		if r.ContentID != "c1" || r.UserID != "alice" {
			t.Fatalf("foreign record listed: %+v", r)
		}
		states = append(states, r.UserState)
	}
	sort.Strings(states)
	if len(states) != 3 || states[0] != "a0" || states[1] != "a1" || states[2] != "ans" {
		t.Fatalf("states=%v", states)
	}

	got, ok, err := b.LoadUserData(ctx, "c1", "state", "0", bob)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got.UserState != "b0" {
		t.Fatalf("bob load=%+v ok=%v", got, ok)
	}
}

func testDeleteByUser(t *testing.T, b store.Backend) {
	ctx := context.Background()
	save(t, b, rec("c1", alice, "state", "0", "a0", true), alice)
	save(t, b, rec("c1", alice, "answers", "3", "a3", false), alice)
	save(t, b, rec("c1", bob, "state", "0", "b0", true), bob)
	save(t, b, rec("c2", alice, "state", "0", "x", true), alice)

	if err := b.DeleteUserDataByUser(ctx, "c1", "alice", admin); err != nil {
		t.Fatal(err)
	}
	list, err := b.ListRecordsForContent(ctx, "c1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("alice still has %d records", len(list))
	}
	if _, ok, _ := b.LoadUserData(ctx, "c1", "state", "0", bob); !ok {
		t.Fatal("bob's record was removed")
	}
	if _, ok, _ := b.LoadUserData(ctx, "c2", "state", "0", alice); !ok {
		t.Fatal("record of another content was removed")
	}
}

func testDeleteAllForContent(t *testing.T, b store.Backend) {
	ctx := context.Background()
	save(t, b, rec("c1", alice, "state", "0", "a0", true), alice)
	save(t, b, rec("c1", bob, "state", "0", "b0", true), bob)
	save(t, b, rec("c2", alice, "state", "0", "keep", true), alice)

	if err := b.DeleteAllUserDataForContent(ctx, "c1", admin); err != nil {
		t.Fatal(err)
	}
	for _, u := range []store.User{alice, bob} {
		list, err := b.ListRecordsForContent(ctx, "c1", u.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 0 {
			t.Fatalf("%s still has %d records", u.ID, len(list))
		}
	}
	got, ok, err := b.LoadUserData(ctx, "c2", "state", "0", alice)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got.UserState != "keep" {
		t.Fatalf("c2 load=%+v ok=%v", got, ok)
	}
}

func testDeleteIdempotent(t *testing.T, b store.Backend) {
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := b.DeleteUserDataByUser(ctx, "empty", "alice", alice); err != nil {
			t.Fatalf("delete #%d: %v", i+1, err)
		}
		if err := b.DeleteAllUserDataForContent(ctx, "empty", admin); err != nil {
			t.Fatalf("delete all #%d: %v", i+1, err)
		}
	}
}

func testCompletionUpsert(t *testing.T, b store.Backend) {
	ctx := context.Background()
	first := store.FinishedRecord{ContentID: "c1", UserID: "alice", Score: 3, MaxScore: 10, OpenedTimestamp: 1000, FinishedTimestamp: 1060, CompletionTime: 60}
	if err := b.RecordCompletion(ctx, first, alice); err != nil {
		t.Fatal(err)
	}
	second := first
	second.Score = 9
	second.FinishedTimestamp = 1200
	second.CompletionTime = 200
	if err := b.RecordCompletion(ctx, second, alice); err != nil {
		t.Fatal(err)
	}
	if err := b.RecordCompletion(ctx, store.FinishedRecord{ContentID: "c1", UserID: "bob", Score: 12, MaxScore: 10}, bob); err != nil {
		t.Fatal(err)
	}

	lister, ok := b.(store.CompletionLister)
	if !ok {
		return
	}
	got, err := lister.ListCompletions(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len=%d want 2", len(got))
	}
	sort.Slice(got, func(i, j int) bool { return got[i].UserID < got[j].UserID })
	if got[0] != second {
		t.Fatalf("alice completion=%+v want %+v", got[0], second)
	}
	if got[1].Score != 12 || got[1].MaxScore != 10 {
		t.Fatalf("bob completion=%+v", got[1])
	}
}
