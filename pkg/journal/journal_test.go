package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAssignsStrictlyIncreasingCursors(t *testing.T) {
	j := New(10)
	var cursors []int64
	for i := 0; i < 5; i++ {
		e := j.Publish(Scope{ConversationID: "s1"}, Event{Kind: KindSessionStatus}, nil)
		cursors = append(cursors, e.Cursor)
	}
	for i, c := range cursors {
		assert.Equal(t, int64(i+1), c)
	}
}

func TestSubscribeReplaysBacklogAfterCursor(t *testing.T) {
	j := New(10)
	j.Publish(Scope{ConversationID: "s1"}, Event{Kind: KindSessionStatus}, nil)
	j.Publish(Scope{ConversationID: "s1"}, Event{Kind: KindSessionStatus}, nil)
	j.Publish(Scope{ConversationID: "s1"}, Event{Kind: KindSessionStatus}, nil)

	backlog, stale := j.Subscribe("sub1", "conn1", Filter{ConversationID: "s1"}, 1)
	require.False(t, stale)
	require.Len(t, backlog, 2)
	assert.Equal(t, int64(2), backlog[0].Cursor)
	assert.Equal(t, int64(3), backlog[1].Cursor)
}

func TestSubscribeStaleCursorWhenEvicted(t *testing.T) {
	j := New(1)
	j.Publish(Scope{}, Event{Kind: KindSessionStatus}, nil)
	j.Publish(Scope{}, Event{Kind: KindSessionStatus}, nil)

	backlog, stale := j.Subscribe("sub1", "conn1", Filter{}, 0)
	assert.True(t, stale, "afterCursor:0 is older than the sole resident entry")
	require.Len(t, backlog, 1, "the sole resident entry is still returned alongside the stale marker")
}

func TestFilterIncludeOutputGatesSessionOutput(t *testing.T) {
	j := New(10)
	dispatched := 0
	j.Publish(Scope{ConversationID: "s1"}, Event{Kind: KindSessionOutput}, func(sub Subscription, e Entry) {
		dispatched++
	})
	j.Subscribe("sub1", "conn1", Filter{ConversationID: "s1"}, 0) // IncludeOutput=false

	dispatched = 0
	j.Publish(Scope{ConversationID: "s1"}, Event{Kind: KindSessionOutput}, func(sub Subscription, e Entry) {
		dispatched++
	})
	assert.Equal(t, 0, dispatched)

	j.Unsubscribe("sub1")
	j.Subscribe("sub2", "conn1", Filter{ConversationID: "s1", IncludeOutput: true}, 0)
	dispatched = 0
	j.Publish(Scope{ConversationID: "s1"}, Event{Kind: KindSessionOutput}, func(sub Subscription, e Entry) {
		dispatched++
	})
	assert.Equal(t, 1, dispatched)
}

func TestTaskIDFilterMatchesListMembership(t *testing.T) {
	j := New(10)
	dispatched := 0
	j.Subscribe("sub1", "conn1", Filter{TaskID: "t1"}, 0)
	j.Publish(Scope{TaskIDs: []string{"t1", "t2"}}, Event{Kind: KindTaskUpdated}, func(sub Subscription, e Entry) {
		dispatched++
	})
	assert.Equal(t, 1, dispatched)

	dispatched = 0
	j.Publish(Scope{TaskIDs: []string{"t9"}}, Event{Kind: KindTaskUpdated}, func(sub Subscription, e Entry) {
		dispatched++
	})
	assert.Equal(t, 0, dispatched)
}
