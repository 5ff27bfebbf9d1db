package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresInOrder(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewFake(base)

	var got []string
	c.AfterFunc(2*time.Minute, func() { got = append(got, "b") })
	c.AfterFunc(time.Minute, func() { got = append(got, "a") })
	c.AfterFunc(2*time.Minute, func() { got = append(got, "c") })
	c.AfterFunc(10*time.Minute, func() { got = append(got, "late") })

	c.Advance(5 * time.Minute)

	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("fired = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fired = %v, want %v", got, want)
		}
	}
	if !c.Now().Equal(base.Add(5 * time.Minute)) {
		t.Fatalf("Now() = %v, want %v", c.Now(), base.Add(5*time.Minute))
	}
	if n := len(c.Pending()); n != 1 {
		t.Fatalf("Pending() len = %d, want 1", n)
	}
}

func TestFakeCallbackSeesFireTime(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewFake(base)

	var seen time.Time
	c.AfterFunc(3*time.Minute, func() { seen = c.Now() })
	c.Advance(time.Hour)

	if want := base.Add(3 * time.Minute); !seen.Equal(want) {
		t.Fatalf("Now() inside callback = %v, want %v", seen, want)
	}
}

func TestFakeRearmFromCallback(t *testing.T) {
	t.Parallel()

	c := NewFake(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))

	n := 0
	var tick func()
	tick = func() {
		n++
		c.AfterFunc(5*time.Minute, tick)
	}
	c.AfterFunc(5*time.Minute, tick)

	c.Advance(22 * time.Minute)
	if n != 4 {
		t.Fatalf("ticks = %d, want 4", n)
	}
}

func TestFakeStop(t *testing.T) {
	t.Parallel()

	c := NewFake(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	fired := false
	tm := c.AfterFunc(time.Minute, func() { fired = true })

	if !tm.Stop() {
		t.Fatalf("Stop() = false, want true")
	}
	if tm.Stop() {
		t.Fatalf("second Stop() = true, want false")
	}
	c.Advance(time.Hour)
	if fired {
		t.Fatalf("stopped timer fired")
	}
}
