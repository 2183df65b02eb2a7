package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestFIFORoundtrip(t *testing.T) {
	c := NewFIFO[string](3)
	c.Add("a", "1")
	c.Add("b", "2")
	for k, want := range map[string]string{"a": "1", "b": "2"} {
		v, ok := c.Get(k)
		if !ok || v != want {
			t.Fatalf("got %v %v, want %v", v, ok, want)
		}
	}
	if _, ok := c.Get("c"); ok {
		t.Fatal("unexpected hit for missing key")
	}
}

func TestFIFOEvictsOldestInserted(t *testing.T) {
	const n = 5
	c := NewFIFO[int](n)
	for i := 0; i <= n; i++ {
		c.Add(fmt.Sprintf("k%d", i), i)
		// access the first key a lot, must not protect it
		c.Get("k0")
	}
	if _, ok := c.Get("k0"); ok {
		t.Fatal("first inserted key should be evicted")
	}
	for i := 1; i <= n; i++ {
		if v, ok := c.Get(fmt.Sprintf("k%d", i)); !ok || v != i {
			t.Fatalf("k%d: got %v %v", i, v, ok)
		}
	}
	if c.Len() != n {
		t.Fatalf("got len %d, want %d", c.Len(), n)
	}
}

func TestFIFOReplaceKeepsPosition(t *testing.T) {
	c := NewFIFO[int](2)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("a", 10)
	c.Add("c", 3)
	if _, ok := c.Get("a"); ok {
		t.Fatal("a was inserted first and should be gone")
	}
	if v, _ := c.Get("b"); v != 2 {
		t.Fatalf("got %v, want 2", v)
	}
}

func TestTTLExpiry(t *testing.T) {
	var (
		now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		c   = NewTTL[string](10 * time.Second)
	)
	c.Now = func() time.Time { return now }
	c.Add("k", "v")
	now = now.Add(9 * time.Second)
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("got %v %v, want v", v, ok)
	}
	if c.Hits() != 1 {
		t.Fatalf("got %d hits, want 1", c.Hits())
	}
	now = now.Add(2 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry")
	}
	if c.Len() != 0 {
		t.Fatal("expired entry should be removed")
	}
	if c.Hits() != 1 {
		t.Fatalf("got %d hits, want 1", c.Hits())
	}
}

func TestLocked(t *testing.T) {
	c := NewLocked[int](NewFIFO[int](100))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				key := fmt.Sprintf("%d-%d", i, j)
				c.Add(key, j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	if v, ok := c.Get("9-9"); !ok || v != 9 {
		t.Fatalf("got %v %v", v, ok)
	}
}
