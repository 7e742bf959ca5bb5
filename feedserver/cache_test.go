package feedserver

import (
	"testing"
	"time"
)

func TestCache_VersionAndExpiry(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewCache(time.Minute)
	c.now = func() time.Time { return now }

	c.put(1, &rendered{version: 5})
	if _, ok := c.get(1, 5); !ok {
		t.Fatal("same version missed")
	}
	if _, ok := c.get(1, 6); ok {
		t.Fatal("other version hit")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.get(1, 5); ok {
		t.Fatal("expired entry hit")
	}
	if st := c.Stats(); st.Hits != 1 || st.Misses != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCache_InvalidateAndPurge(t *testing.T) {
	c := NewCache(time.Minute)
	c.put(1, &rendered{version: 1})
	c.put(2, &rendered{version: 1})

	c.Invalidate(1)
	if _, ok := c.get(1, 1); ok {
		t.Fatal("invalidated post hit")
	}
	if n := c.Purge(); n != 1 {
		t.Errorf("purge = %d", n)
	}
	if st := c.Stats(); st.Posts != 0 {
		t.Errorf("posts = %d", st.Posts)
	}
}
