package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func opN(n int) Op {
	return Op{
		Method:     MethodActionOutcome,
		Params:     map[string]interface{}{"npcId": fmt.Sprintf("npc-%d", n)},
		EnqueuedAt: time.Now(),
	}
}

func TestEnqueue_DropOldestAtCapacity(t *testing.T) {
	q := NewRetryQueue(QueueConfig{Capacity: 3})

	for i := 0; i < 4; i++ {
		q.Enqueue(opN(i))
	}
	assert.Equal(t, 3, q.Size())
	assert.Equal(t, 1, q.Dropped())

	// Oldest (npc-0) was evicted; npc-1..3 remain in order.
	batch := q.DrainValid(time.Now())
	require.Len(t, batch, 3)
	assert.Equal(t, "npc-1", batch[0].Params["npcId"])
	assert.Equal(t, "npc-3", batch[2].Params["npcId"])
}

func TestQueueHooks_ReportSizeAndDrops(t *testing.T) {
	var size, dropped int
	q := NewRetryQueue(QueueConfig{
		Capacity:  2,
		OnSize:    func(n int) { size = n },
		OnDropped: func(n int) { dropped += n },
	})

	q.Enqueue(opN(0))
	assert.Equal(t, 1, size)

	q.Enqueue(opN(1))
	q.Enqueue(opN(2)) // evicts npc-0
	assert.Equal(t, 2, size)
	assert.Equal(t, 1, dropped)

	q.DrainValid(time.Now())
	assert.Zero(t, size)
}

func TestDrainValid_DiscardsExpired(t *testing.T) {
	q := NewRetryQueue(QueueConfig{MaxAge: time.Minute})

	fresh := opN(1)
	stale := opN(2)
	stale.EnqueuedAt = time.Now().Add(-2 * time.Minute)
	q.Enqueue(fresh)
	q.Enqueue(stale)

	batch := q.DrainValid(time.Now())
	require.Len(t, batch, 1)
	assert.Equal(t, "npc-1", batch[0].Params["npcId"])
	assert.Zero(t, q.Size())
}

func TestFlush_AppliesAll(t *testing.T) {
	q := NewRetryQueue(QueueConfig{})
	session := NewInMemSession()
	for i := 0; i < 5; i++ {
		q.Enqueue(opN(i))
	}

	require.NoError(t, q.Flush(context.Background(), session))
	assert.Zero(t, q.Size())
	assert.Len(t, session.Outcomes(), 5)
}

func TestFlush_RequeuesOnFailure(t *testing.T) {
	q := NewRetryQueue(QueueConfig{})
	session := NewInMemSession()
	session.FailApply = true
	for i := 0; i < 3; i++ {
		q.Enqueue(opN(i))
	}

	require.Error(t, q.Flush(context.Background(), session))
	assert.Equal(t, 3, q.Size())

	// Recovery flushes the requeued batch.
	session.FailApply = false
	require.NoError(t, q.Flush(context.Background(), session))
	assert.Zero(t, q.Size())
	assert.Len(t, session.Outcomes(), 3)
}

func TestAutoFlush_DrainsInBackground(t *testing.T) {
	q := NewRetryQueue(QueueConfig{FlushInterval: 20 * time.Millisecond})
	session := NewInMemSession()
	q.Enqueue(opN(1))
	q.Start(session)
	defer q.DrainAndStop(context.Background(), session)

	deadline := time.Now().Add(2 * time.Second)
	for q.Size() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("auto-flush never drained the queue")
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Len(t, session.Outcomes(), 1)
}

func TestDrainAndStop_FlushesBeforeStopping(t *testing.T) {
	q := NewRetryQueue(QueueConfig{FlushInterval: time.Hour}) // timer never fires
	session := NewInMemSession()
	q.Start(session)
	q.Enqueue(opN(7))

	require.NoError(t, q.DrainAndStop(context.Background(), session))
	assert.Zero(t, q.Size())
	assert.Len(t, session.Outcomes(), 1)
}

func TestGraph_SubmitFallsBackToQueue(t *testing.T) {
	q := NewRetryQueue(QueueConfig{FlushInterval: time.Hour})
	session := NewInMemSession()
	session.FailApply = true
	g := NewGraph(session, q)

	g.SubmitActionOutcome("npc-9", "command", true, 0.4)
	require.Eventually(t, func() bool { return q.Size() == 1 },
		2*time.Second, 10*time.Millisecond, "submit is async; op must reach the queue")

	session.FailApply = false
	require.NoError(t, q.Flush(context.Background(), session))
	outcomes := session.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, "npc-9", outcomes[0].Params["npcId"])
}

func TestGraph_DirectorConfidence(t *testing.T) {
	session := NewInMemSession()
	session.SetDirectorConfidence("npc-1", 0.9)
	g := NewGraph(session, NewRetryQueue(QueueConfig{FlushInterval: time.Hour}))

	conf := g.DirectorConfidence(context.Background(), "npc-1")
	require.NotNil(t, conf)
	assert.InDelta(t, 0.9, *conf, 0.01) // fresh reading, negligible decay

	assert.Nil(t, g.DirectorConfidence(context.Background(), "npc-2"))
	assert.Nil(t, g.DirectorConfidence(context.Background(), ""))
}

func TestDecayConfidence_HalvesDistanceEachHalfLife(t *testing.T) {
	assert.InDelta(t, 0.9, DecayConfidence(0.9, 0), 1e-9)
	assert.InDelta(t, 0.7, DecayConfidence(0.9, time.Hour), 1e-9)
	assert.InDelta(t, 0.6, DecayConfidence(0.9, 2*time.Hour), 1e-9)
	assert.InDelta(t, 0.3, DecayConfidence(0.1, time.Hour), 1e-9)
}
