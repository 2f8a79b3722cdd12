package eventbus

import "testing"

func TestDedupe(t *testing.T) {
	d := newDedupe(2)
	if !d.add("a") || !d.add("b") {
		t.Fatal("first sight should be new")
	}
	if d.add("a") || d.add("b") {
		t.Fatal("repeat should not be new")
	}
	// "c" evicts "a".
	if !d.add("c") {
		t.Fatal("c should be new")
	}
	if !d.add("a") {
		t.Fatal("a should have been forgotten")
	}
	if d.add("c") {
		t.Fatal("c should still be remembered")
	}
}
