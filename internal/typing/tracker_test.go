package typing

import (
	"slices"
	"testing"
)

func TestTrackerDuplicateAddIsNoop(t *testing.T) {
	tr := NewTracker()
	if !tr.Add("c1", User{UserID: "u1", UserName: "Ana"}) {
		t.Fatal("first Add = false")
	}
	if tr.Add("c1", User{UserID: "u1", UserName: "Ana"}) {
		t.Error("duplicate Add = true")
	}
	if got := tr.Users("c1"); len(got) != 1 {
		t.Errorf("users = %+v, want one", got)
	}
}

func TestTrackerRemoveUnconditional(t *testing.T) {
	tr := NewTracker()
	if tr.Remove("c1", "ghost") {
		t.Error("Remove of untracked user = true")
	}
	tr.Add("c1", User{UserID: "u1"})
	tr.Add("c1", User{UserID: "u2"})
	if !tr.Remove("c1", "u1") {
		t.Error("Remove(u1) = false")
	}
	got := tr.Users("c1")
	if len(got) != 1 || got[0].UserID != "u2" {
		t.Errorf("users = %+v, want [u2]", got)
	}
}

func TestTrackerUsersSorted(t *testing.T) {
	tr := NewTracker()
	tr.Add("c1", User{UserID: "u3"})
	tr.Add("c1", User{UserID: "u1"})
	tr.Add("c1", User{UserID: "u2"})

	got := tr.Users("c1")
	for i, want := range []string{"u1", "u2", "u3"} {
		if got[i].UserID != want {
			t.Errorf("users[%d] = %s, want %s", i, got[i].UserID, want)
		}
	}
}

func TestTrackerRemoveUser(t *testing.T) {
	tr := NewTracker()
	tr.Add("c2", User{UserID: "u1"})
	tr.Add("c1", User{UserID: "u1"})
	tr.Add("c1", User{UserID: "u2"})

	affected := tr.RemoveUser("u1")
	if len(affected) != 2 || affected[0] != "c1" || affected[1] != "c2" {
		t.Errorf("affected = %v, want [c1 c2]", affected)
	}
	if got := tr.Users("c2"); len(got) != 0 {
		t.Errorf("c2 users = %+v", got)
	}
}

func TestTrackerClear(t *testing.T) {
	tr := NewTracker()
	tr.Add("c1", User{UserID: "u1"})
	tr.Add("c2", User{UserID: "u1"})
	tr.Clear("c1")
	if len(tr.Users("c1")) != 0 || len(tr.Users("c2")) != 1 {
		t.Error("Clear touched the wrong conversation")
	}
	if got := tr.Reset(); !slices.Equal(got, []string{"c2"}) {
		t.Errorf("Reset() = %v, want [c2]", got)
	}
	if len(tr.Users("c2")) != 0 {
		t.Error("Reset left users behind")
	}
}
