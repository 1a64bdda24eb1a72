package core

import "testing"

func TestSuggestionsAreCopies(t *testing.T) {
	got := Suggestions()
	if len(got) != 4 || got[0] != "No start when engine is warm" {
		t.Fatalf("Suggestions() = %q", got)
	}
	got[0] = "changed"
	if Suggestions()[0] != "No start when engine is warm" {
		t.Fatal("caller mutation leaked into the suggestion list")
	}
}
