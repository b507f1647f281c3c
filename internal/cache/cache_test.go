package cache

import "testing"

func TestCache_SetGet(t *testing.T) {
	c := New()
	c.Set("k", 42)
	v, ok := c.Get("k")
	if !ok || v != 42 {
		t.Fatalf("got (%v, %v), want (42, true)", v, ok)
	}
}

func TestCache_MissReturnsFalse(t *testing.T) {
	c := New()
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("got ok=true for missing key")
	}
}

func TestCache_Clear(t *testing.T) {
	c := New()
	c.Set("k", 1)
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("got len=%d after Clear, want 0", c.Len())
	}
	if _, ok := c.Get("k"); ok {
		t.Fatalf("got ok=true after Clear")
	}
}

func TestCache_Len(t *testing.T) {
	c := New()
	c.Set("a", 1)
	c.Set("b", 2)
	if c.Len() != 2 {
		t.Fatalf("got len=%d, want 2", c.Len())
	}
}
