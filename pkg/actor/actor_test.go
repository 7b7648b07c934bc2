package actor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActor_Ask_ReturnsHandlerResponse(t *testing.T) {
	a := Spawn("t1", func(ctx context.Context, req Request) Response {
		return Response{Payload: req.Payload.(int) * 2}
	})
	defer a.Stop()

	out, err := a.Ask(context.Background(), 21)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestActor_Ask_PropagatesHandlerError(t *testing.T) {
	a := Spawn("t2", func(ctx context.Context, req Request) Response {
		return Response{Err: assert.AnError}
	})
	defer a.Stop()

	_, err := a.Ask(context.Background(), nil)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestActor_Tell_DoesNotBlockOnReply(t *testing.T) {
	done := make(chan struct{})
	a := Spawn("t3", func(ctx context.Context, req Request) Response {
		close(done)
		return Response{}
	})
	defer a.Stop()

	a.Tell("fire and forget")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestActor_SerializesMessages_OneAtATime(t *testing.T) {
	var inFlight int32
	var maxObserved int32
	a := Spawn("t4", func(ctx context.Context, req Request) Response {
		n := atomic.AddInt32(&inFlight, 1)
		if n > atomic.LoadInt32(&maxObserved) {
			atomic.StoreInt32(&maxObserved, n)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return Response{}
	})
	defer a.Stop()

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			a.Ask(context.Background(), nil)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxObserved), "a single-goroutine mailbox must never process two messages concurrently (I1)")
}

func TestActor_AskStreaming_ForwardsChunksBeforeReply(t *testing.T) {
	a := Spawn("t5", func(ctx context.Context, req Request) Response {
		req.Stream <- "chunk1"
		req.Stream <- "chunk2"
		return Response{Payload: "final"}
	})
	defer a.Stop()

	var chunks []string
	out, err := a.AskStreaming(context.Background(), nil, time.Second, func(c any) {
		chunks = append(chunks, c.(string))
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk1", "chunk2"}, chunks)
	assert.Equal(t, "final", out)
}

func TestActor_AskStreaming_DeadlineResetsOnEachChunk(t *testing.T) {
	a := Spawn("t6", func(ctx context.Context, req Request) Response {
		for i := 0; i < 3; i++ {
			time.Sleep(15 * time.Millisecond)
			req.Stream <- i
		}
		return Response{Payload: "done"}
	})
	defer a.Stop()

	out, err := a.AskStreaming(context.Background(), nil, 30*time.Millisecond, func(c any) {})
	require.NoError(t, err, "each chunk should reset the deadline, so a slow-but-steady stream must not time out")
	assert.Equal(t, "done", out)
}

func TestActor_AskStreaming_TimesOutWithoutChunks(t *testing.T) {
	a := Spawn("t7", func(ctx context.Context, req Request) Response {
		time.Sleep(50 * time.Millisecond)
		return Response{Payload: "too late"}
	})
	defer a.Stop()

	_, err := a.AskStreaming(context.Background(), nil, 10*time.Millisecond, func(c any) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestActor_Ask_HonorsContextCancellation(t *testing.T) {
	block := make(chan struct{})
	a := Spawn("t8", func(ctx context.Context, req Request) Response {
		<-block
		return Response{}
	})
	defer func() {
		close(block)
		a.Stop()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := a.Ask(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestActor_PanicInHandler_IsRecoveredAsError(t *testing.T) {
	a := Spawn("t9", func(ctx context.Context, req Request) Response {
		panic("boom")
	})
	defer a.Stop()

	_, err := a.Ask(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestActor_IdleTimeout_InvokesOnIdle(t *testing.T) {
	var fired int32
	done := make(chan struct{})
	a := Spawn("t10", func(ctx context.Context, req Request) Response {
		return Response{}
	}, WithIdleTimeout(10*time.Millisecond, func() {
		if atomic.AddInt32(&fired, 1) == 1 {
			close(done)
		}
	}))
	defer a.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onIdle was never invoked")
	}
}

func TestActor_Stop_IsIdempotent(t *testing.T) {
	a := Spawn("t11", func(ctx context.Context, req Request) Response { return Response{} })
	a.Stop()
	assert.NotPanics(t, func() { a.Stop() })
}

func TestActor_AskAfterStop_ReturnsError(t *testing.T) {
	a := Spawn("t12", func(ctx context.Context, req Request) Response { return Response{} })
	a.Stop()

	_, err := a.Ask(context.Background(), nil)
	assert.Error(t, err)
}
