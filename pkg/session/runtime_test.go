package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionbridge/daemon/pkg/journal"
	"github.com/sessionbridge/daemon/pkg/pty"
	"github.com/sessionbridge/daemon/pkg/store"
)

func newTestRuntime() (*Runtime, *pty.FakeStarter) {
	starter := &pty.FakeStarter{}
	j := journal.New(100)
	r := NewRuntime(store.NewMemory(), j, starter, time.Minute, nil)
	return r, starter
}

func TestStartFailsIfAlreadyLive(t *testing.T) {
	r, _ := newTestRuntime()
	ctx := context.Background()
	_, err := r.Start(ctx, StartInput{SessionID: "s1", Command: "echo"})
	require.NoError(t, err)

	_, err = r.Start(ctx, StartInput{SessionID: "s1", Command: "echo"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestAttachDeliversLiveOutputInOrder(t *testing.T) {
	r, starter := newTestRuntime()
	fake := pty.NewFake()
	starter.NextFake = fake
	ctx := context.Background()

	_, err := r.Start(ctx, StartInput{SessionID: "s1", Command: "echo"})
	require.NoError(t, err)

	var got [][]byte
	_, err = r.Attach("s1", "conn1", 0, func(cursor uint64, chunk []byte) {
		got = append(got, append([]byte(nil), chunk...))
	}, nil)
	require.NoError(t, err)

	fake.Emit([]byte("A"))
	fake.Emit([]byte("B"))
	fake.Emit([]byte("C"))

	require.Len(t, got, 3)
	assert.Equal(t, []byte("A"), got[0])
	assert.Equal(t, []byte("B"), got[1])
	assert.Equal(t, []byte("C"), got[2])
}

func TestClaimTakeoverThenRespond(t *testing.T) {
	r, starter := newTestRuntime()
	starter.NextFake = pty.NewFake()
	ctx := context.Background()
	_, err := r.Start(ctx, StartInput{SessionID: "s1", Command: "echo"})
	require.NoError(t, err)

	_, err = r.Claim("s1", "connA", "agent1", "agent", "agent:owner", false)
	require.NoError(t, err)

	_, err = r.Respond("s1", "connB", "hi")
	var claimed *ClaimedError
	require.ErrorAs(t, err, &claimed)
	assert.Equal(t, "session is claimed by agent:owner", claimed.Error())

	ctl, err := r.Claim("s1", "connB", "h1", "human", "human:h1", true)
	require.NoError(t, err)
	assert.Equal(t, "h1", ctl.ControllerID)

	_, err = r.Respond("s1", "connB", "ok")
	assert.NoError(t, err)
}

func TestClaimSameControllerIsIdempotent(t *testing.T) {
	r, starter := newTestRuntime()
	starter.NextFake = pty.NewFake()
	ctx := context.Background()
	_, err := r.Start(ctx, StartInput{SessionID: "s1", Command: "echo"})
	require.NoError(t, err)

	_, err = r.Claim("s1", "connA", "agent1", "agent", "agent:owner", false)
	require.NoError(t, err)
	_, err = r.Claim("s1", "connA", "agent1", "agent", "agent:owner", false)
	assert.NoError(t, err)
}

func TestReleaseTwiceReturnsFalseSecondTime(t *testing.T) {
	r, starter := newTestRuntime()
	starter.NextFake = pty.NewFake()
	ctx := context.Background()
	_, err := r.Start(ctx, StartInput{SessionID: "s1", Command: "echo"})
	require.NoError(t, err)
	_, err = r.Claim("s1", "connA", "agent1", "agent", "agent:owner", false)
	require.NoError(t, err)

	released, err := r.Release("s1", "connA", "")
	require.NoError(t, err)
	assert.True(t, released)

	released, err = r.Release("s1", "connA", "")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestInputSilentlyDroppedOnClaimConflict(t *testing.T) {
	r, starter := newTestRuntime()
	fake := pty.NewFake()
	starter.NextFake = fake
	ctx := context.Background()
	_, err := r.Start(ctx, StartInput{SessionID: "s1", Command: "echo"})
	require.NoError(t, err)

	_, err = r.Claim("s1", "connA", "agent1", "agent", "agent:owner", false)
	require.NoError(t, err)

	r.Input("s1", "connB", []byte("nope"))
	assert.Empty(t, fake.WrittenBytes())

	r.Input("s1", "connA", []byte("yes"))
	assert.Equal(t, []byte("yes"), fake.WrittenBytes())
}

func TestSessionExitTombstoneThenRestart(t *testing.T) {
	r, starter := newTestRuntime()
	fake := pty.NewFake()
	starter.NextFake = fake
	ctx := context.Background()
	_, err := r.Start(ctx, StartInput{SessionID: "s1", Command: "echo"})
	require.NoError(t, err)

	code := 0
	fake.FireEvent(pty.Event{Kind: pty.EventSessionExit, Exit: &pty.Exit{Code: &code}})

	s, err := r.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, StatusExited, s.Summary().Status)

	_, err = r.Start(ctx, StartInput{SessionID: "s1", Command: "echo"})
	assert.NoError(t, err, "starting over a tombstone recreates the session")
}

func TestListAttentionFirstOrdering(t *testing.T) {
	r, starter := newTestRuntime()
	ctx := context.Background()
	starter.NextFake = pty.NewFake()
	_, err := r.Start(ctx, StartInput{SessionID: "running1", Command: "echo"})
	require.NoError(t, err)

	starter.NextFake = pty.NewFake()
	_, err = r.Start(ctx, StartInput{SessionID: "needsinput1", Command: "echo"})
	require.NoError(t, err)
	s, _ := r.Get("needsinput1")
	fakeNI := s.Live.(*pty.Fake)
	fakeNI.FireEvent(pty.Event{Kind: pty.EventAttentionRequired, Reason: "waiting"})

	out := r.List(ListFilter{}, SortAttentionFirst)
	require.Len(t, out, 2)
	assert.Equal(t, "needsinput1", out[0].ID)
}
