package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFunc_FiresInDeadlineOrder(t *testing.T) {
	t.Parallel()

	c := Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	var got []string
	c.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	c.AfterFunc(1*time.Second, func() { got = append(got, "a") })

	c.Advance(999 * time.Millisecond)
	if len(got) != 0 {
		t.Fatalf("fired early: %v", got)
	}

	c.Advance(2 * time.Second)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("order=%v want [a b]", got)
	}
	if c.Pending() != 0 {
		t.Fatalf("pending=%d want 0", c.Pending())
	}
}

func TestFakeAfterFunc_StopPreventsFire(t *testing.T) {
	t.Parallel()

	c := Fake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatalf("Stop()=false on pending timer")
	}
	if timer.Stop() {
		t.Fatalf("second Stop()=true")
	}

	c.Advance(time.Minute)
	if fired {
		t.Fatalf("stopped timer fired")
	}
}

func TestFakeAdvance_RunsTimersRegisteredByCallbacks(t *testing.T) {
	t.Parallel()

	c := Fake(time.Unix(0, 0))
	count := 0
	var arm func()
	arm = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, arm)
		}
	}
	c.AfterFunc(time.Second, arm)

	c.Advance(time.Second)
	if count != 1 {
		t.Fatalf("count=%d want 1", count)
	}
	if in, ok := c.NextIn(); !ok || in != time.Second {
		t.Fatalf("NextIn()=%v,%v want 1s,true", in, ok)
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	t.Parallel()

	c := Fake(time.Unix(0, 0))
	go c.AfterFunc(time.Second, func() {})

	if !c.WaitForTimers(1, 2*time.Second) {
		t.Fatalf("timer never registered")
	}
	if c.WaitForTimers(2, 50*time.Millisecond) {
		t.Fatalf("WaitForTimers(2) should time out")
	}
}
