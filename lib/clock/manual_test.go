// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"context"
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func TestManualNowAdvance(t *testing.T) {
	c := Manual(testEpoch)

	if got := c.Now(); !got.Equal(testEpoch) {
		t.Errorf("Now() = %v, want %v", got, testEpoch)
	}

	c.Advance(90 * time.Second)
	want := testEpoch.Add(90 * time.Second)
	if got := c.Now(); !got.Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestManualAfterFiresAtDeadline(t *testing.T) {
	c := Manual(testEpoch)
	ch := c.After(10 * time.Second)

	c.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		want := testEpoch.Add(10 * time.Second)
		if !got.Equal(want) {
			t.Errorf("fire time = %v, want %v", got, want)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestManualAfterNonPositive(t *testing.T) {
	c := Manual(testEpoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
}

func TestManualTickerFiresPerInterval(t *testing.T) {
	c := Manual(testEpoch)
	ticker := c.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		c.Advance(5 * time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d not delivered", i)
		}
	}
}

func TestManualTickerDropsUndrainedTicks(t *testing.T) {
	c := Manual(testEpoch)
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	// Span ten intervals without draining: capacity is 1, so exactly
	// one tick should be waiting.
	c.Advance(10 * time.Second)

	drained := 0
	for {
		select {
		case <-ticker.C:
			drained++
			continue
		default:
		}
		break
	}
	if drained != 1 {
		t.Errorf("drained %d ticks, want 1 (undrained ticks drop)", drained)
	}
}

func TestManualTickerStop(t *testing.T) {
	c := Manual(testEpoch)
	ticker := c.NewTicker(time.Second)
	ticker.Stop()

	c.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker delivered a tick")
	default:
	}
	if got := c.Pending(); got != 0 {
		t.Errorf("Pending() = %d after Stop, want 0", got)
	}
}

func TestManualSleepBlocksUntilAdvance(t *testing.T) {
	c := Manual(testEpoch)
	done := make(chan struct{})

	go func() {
		c.Sleep(30 * time.Second)
		close(done)
	}()

	c.BlockUntil(1)
	select {
	case <-done:
		t.Fatal("Sleep returned before Advance")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance past its deadline")
	}
}

func TestManualFiresInDeadlineOrder(t *testing.T) {
	c := Manual(testEpoch)
	first := c.After(time.Second)
	second := c.After(2 * time.Second)

	c.Advance(3 * time.Second)

	gotFirst := <-first
	gotSecond := <-second
	if !gotFirst.Before(gotSecond) && !gotFirst.Equal(gotSecond) {
		t.Errorf("deadline order violated: first fired at %v, second at %v", gotFirst, gotSecond)
	}
}

func TestWaitElapsed(t *testing.T) {
	c := Manual(testEpoch)
	done := make(chan error, 1)

	go func() {
		done <- Wait(context.Background(), c, 10*time.Second)
	}()

	c.BlockUntil(1)
	c.Advance(10 * time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Advance")
	}
}

func TestWaitCancelled(t *testing.T) {
	c := Manual(testEpoch)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- Wait(ctx, c, time.Hour)
	}()

	c.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Wait = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}

func TestWaitNonPositiveDuration(t *testing.T) {
	c := Manual(testEpoch)
	if err := Wait(context.Background(), c, 0); err != nil {
		t.Errorf("Wait(0) = %v, want nil", err)
	}
}
