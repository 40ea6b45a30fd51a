package services

import (
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectOutput drains a subscriber until its stream closes or the
// timeout fires. ended reports whether the end-of-stream marker arrived.
func collectOutput(t *testing.T, sub *Subscriber, timeout time.Duration) (output []byte, ended bool) {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case chunk, ok := <-sub.Out():
			if !ok {
				return output, true
			}
			// Data chunks are never empty; emptiness is reserved for
			// nothing. The end of the stream is the closed channel.
			require.NotEmpty(t, chunk)
			output = append(output, chunk...)
		case <-deadline:
			return output, false
		}
	}
}

func startSession(t *testing.T, id string, command ...string) *Session {
	t.Helper()
	session := NewSession(id, command, "", 0)
	require.NoError(t, session.Start(nil))
	t.Cleanup(session.Stop)
	return session
}

func TestSession(t *testing.T) {
	t.Run("EndOfStreamDeliveredExactlyOnce", func(t *testing.T) {
		session := startSession(t, "eof-test", "echo", "Hello World")
		sub := session.Subscribe()
		defer session.Unsubscribe(sub)

		output, ended := collectOutput(t, sub, 10*time.Second)
		assert.Contains(t, string(output), "Hello World")
		require.True(t, ended, "subscriber never received the end-of-stream marker")

		// The marker is terminal: every further receive reports closed
		// immediately, it can never be mistaken for "no data yet".
		_, ok := <-sub.Out()
		assert.False(t, ok)

		assert.False(t, session.Running())
	})

	t.Run("HistoryPlusLiveStreamHasNoGap", func(t *testing.T) {
		session := startSession(t, "replay-test", "sh", "-c", "printf AAA; sleep 0.5; printf BBB")

		// Let the first burst land before attaching.
		time.Sleep(200 * time.Millisecond)

		sub := session.Subscribe()
		defer session.Unsubscribe(sub)
		history := session.History()

		live, ended := collectOutput(t, sub, 10*time.Second)
		require.True(t, ended)

		full := string(history) + string(live)
		assert.Contains(t, string(history), "AAA")
		assert.Contains(t, full, "BBB")
		assert.Less(t, strings.Index(full, "AAA"), strings.LastIndex(full, "BBB"))
	})

	t.Run("HistoryBoundedToMostRecentBytes", func(t *testing.T) {
		session := startSession(t, "ring-test", "sh", "-c", "seq 1 20000")
		sub := session.Subscribe()
		defer session.Unsubscribe(sub)

		_, ended := collectOutput(t, sub, 30*time.Second)
		require.True(t, ended)

		history := session.History()
		assert.LessOrEqual(t, len(history), 100_000)
		// Oldest output was evicted; the tail survives.
		assert.Contains(t, string(history[len(history)-64:]), "20000")
		assert.NotContains(t, string(history), "\r\n1\r\n")
	})

	t.Run("MultiSubscriberFanOut", func(t *testing.T) {
		session := startSession(t, "fanout-test", "sh", "-c", "sleep 0.2; echo one; sleep 0.1; echo two")

		subA := session.Subscribe()
		defer session.Unsubscribe(subA)
		subB := session.Subscribe()
		defer session.Unsubscribe(subB)

		type result struct {
			output []byte
			ended  bool
		}
		results := make(chan result, 2)
		for _, sub := range []*Subscriber{subA, subB} {
			go func(s *Subscriber) {
				output, ended := collectOutput(t, s, 10*time.Second)
				results <- result{output, ended}
			}(sub)
		}

		first := <-results
		second := <-results
		require.True(t, first.ended)
		require.True(t, second.ended)
		assert.Equal(t, first.output, second.output)
		assert.Contains(t, string(first.output), "one")
		assert.Contains(t, string(first.output), "two")
	})

	t.Run("UnsubscribeDoesNotAffectOthers", func(t *testing.T) {
		session := startSession(t, "unsub-test", "sh", "-c", "sleep 0.3; echo later")

		leaver := session.Subscribe()
		stayer := session.Subscribe()
		session.Unsubscribe(leaver)
		// Unsubscribe is idempotent.
		session.Unsubscribe(leaver)

		output, ended := collectOutput(t, stayer, 10*time.Second)
		session.Unsubscribe(stayer)
		require.True(t, ended)
		assert.Contains(t, string(output), "later")
	})

	t.Run("WriteAndResizeAfterEndAreNoOps", func(t *testing.T) {
		session := startSession(t, "noop-test", "true")
		sub := session.Subscribe()
		defer session.Unsubscribe(sub)

		_, ended := collectOutput(t, sub, 10*time.Second)
		require.True(t, ended)

		assert.NoError(t, session.Write("ignored"))
		session.Resize(50, 120)
	})

	t.Run("SubscribeAfterEnd", func(t *testing.T) {
		session := startSession(t, "late-sub-test", "echo", "gone")
		early := session.Subscribe()
		_, ended := collectOutput(t, early, 10*time.Second)
		session.Unsubscribe(early)
		require.True(t, ended)

		late := session.Subscribe()
		defer session.Unsubscribe(late)
		output, ended := collectOutput(t, late, 2*time.Second)
		assert.True(t, ended)
		assert.Empty(t, output)
		// History is still served to late attachers.
		assert.Contains(t, string(session.History()), "gone")
	})

	t.Run("StopReapsSignalIgnoringChild", func(t *testing.T) {
		session := NewSession("shutdown-test", []string{"sh", "-c", `trap "" TERM INT; sleep 60`}, "", 0)
		require.NoError(t, session.Start(nil))

		pid := session.Pid()
		session.Stop()

		assert.ErrorIs(t, syscall.Kill(pid, 0), syscall.ESRCH)
		assert.False(t, session.Running())

		// Idempotent.
		session.Stop()
	})

	t.Run("StopNotifiesSubscribers", func(t *testing.T) {
		session := startSession(t, "stop-notify-test", "sleep", "60")
		sub := session.Subscribe()
		defer session.Unsubscribe(sub)

		go session.Stop()

		_, ended := collectOutput(t, sub, 10*time.Second)
		assert.True(t, ended, "explicit stop must still deliver the end-of-stream marker")
	})

	t.Run("StopUnstartedSession", func(t *testing.T) {
		session := NewSession("unstarted", []string{"true"}, "", 0)
		session.Stop()
		assert.False(t, session.Running())
	})
}
