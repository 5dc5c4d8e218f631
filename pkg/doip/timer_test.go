package doip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerManagerFiresAfterDuration(t *testing.T) {
	m := NewTimerManager(NewLogger())
	defer m.Close()

	ch := make(chan TimerExpiry, 1)
	m.Add(ch, TimerAliveCheck, 20*time.Millisecond)

	select {
	case exp := <-ch:
		assert.Equal(t, TimerAliveCheck, exp.Timer)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimerManagerCancelSuppressesFiring(t *testing.T) {
	m := NewTimerManager(NewLogger())
	defer m.Close()

	ch := make(chan TimerExpiry, 1)
	m.Add(ch, TimerAliveCheck, 20*time.Millisecond)
	m.Cancel(ch, TimerAliveCheck)

	select {
	case exp := <-ch:
		t.Fatalf("unexpected firing after cancel: %v", exp)
	case <-time.After(80 * time.Millisecond):
	}
}

func TestTimerManagerReAddSupersedesPriorFiring(t *testing.T) {
	m := NewTimerManager(NewLogger())
	defer m.Close()

	ch := make(chan TimerExpiry, 2)
	m.Add(ch, TimerGeneralInactivity, 10*time.Millisecond)
	m.Add(ch, TimerGeneralInactivity, 200*time.Millisecond)

	select {
	case exp := <-ch:
		t.Fatalf("superseded firing should not be delivered: %v", exp)
	case <-time.After(60 * time.Millisecond):
	}

	select {
	case exp := <-ch:
		assert.Equal(t, TimerGeneralInactivity, exp.Timer)
	case <-time.After(time.Second):
		t.Fatal("re-armed timer never fired")
	}
}

// TestTimerManagerCancelThenReAddDoesNotFireStaleEntry guards against a
// cancelled timer's heap entry being resurrected by a later Add for
// the same (owner, timer) key reusing its sequence number: Add the
// timer with a short deadline, Cancel it immediately (leaving the
// short-deadline entry in the heap), then re-Add with a longer
// deadline before the short one would have fired. Only the re-armed
// firing may ever reach the channel.
func TestTimerManagerCancelThenReAddDoesNotFireStaleEntry(t *testing.T) {
	m := NewTimerManager(NewLogger())
	defer m.Close()

	ch := make(chan TimerExpiry, 2)
	m.Add(ch, TimerAliveCheck, 10*time.Millisecond)
	m.Cancel(ch, TimerAliveCheck)
	m.Add(ch, TimerAliveCheck, 100*time.Millisecond)

	select {
	case exp := <-ch:
		t.Fatalf("cancelled entry fired early: %v", exp)
	case <-time.After(40 * time.Millisecond):
	}

	select {
	case exp := <-ch:
		assert.Equal(t, TimerAliveCheck, exp.Timer)
	case <-time.After(time.Second):
		t.Fatal("re-armed timer never fired")
	}
}

func TestTimerManagerCancelAllDisarmsEveryOwnerTimer(t *testing.T) {
	m := NewTimerManager(NewLogger())
	defer m.Close()

	ch := make(chan TimerExpiry, 2)
	m.Add(ch, TimerAliveCheck, 20*time.Millisecond)
	m.Add(ch, TimerGeneralInactivity, 25*time.Millisecond)
	m.CancelAll(ch)

	select {
	case exp := <-ch:
		t.Fatalf("unexpected firing after CancelAll: %v", exp)
	case <-time.After(80 * time.Millisecond):
	}
}

func TestTimerManagerOrdersMultipleOwnersByDeadline(t *testing.T) {
	m := NewTimerManager(NewLogger())
	defer m.Close()

	first := make(chan TimerExpiry, 1)
	second := make(chan TimerExpiry, 1)
	m.Add(second, TimerAliveCheck, 60*time.Millisecond)
	m.Add(first, TimerAliveCheck, 10*time.Millisecond)

	select {
	case <-first:
	case <-second:
		t.Fatal("later deadline fired before earlier one")
	case <-time.After(time.Second):
		t.Fatal("no timer fired")
	}

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("second timer never fired")
	}
}

func TestTimerManagerCloseStopsDispatching(t *testing.T) {
	m := NewTimerManager(NewLogger())
	ch := make(chan TimerExpiry, 1)
	m.Add(ch, TimerAliveCheck, 200*time.Millisecond)
	m.Close()
	m.Close() // idempotent

	select {
	case exp := <-ch:
		t.Fatalf("closed manager should not deliver: %v", exp)
	case <-time.After(250 * time.Millisecond):
	}
	require.NotPanics(t, func() { m.Close() })
}
