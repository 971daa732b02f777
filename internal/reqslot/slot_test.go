package reqslot

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestBeginSupersedesPrior verifies a new submission cancels the previous
// operation on the same channel and its late result is discarded.
func TestBeginSupersedesPrior(t *testing.T) {
	slot := New(ChannelImage)

	tok1 := slot.Begin(context.Background())
	tok2 := slot.Begin(context.Background())

	select {
	case <-tok1.Context().Done():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Expected superseded token context to be cancelled")
	}

	applied := false
	if tok1.Complete(func() { applied = true }) {
		t.Error("Expected superseded Complete to be refused")
	}
	if applied {
		t.Error("Expected superseded apply not to run")
	}

	if !tok2.Complete(nil) {
		t.Error("Expected current token to complete")
	}

	stats := slot.Stats()
	if stats.Submitted != 2 || stats.Superseded != 1 || stats.Completed != 1 {
		t.Errorf("Expected submitted=2 superseded=1 completed=1, got %+v", stats)
	}
}

// TestTryBeginBusy verifies the backpressure guard: a second TryBegin
// while one operation is in flight is refused, not queued.
func TestTryBeginBusy(t *testing.T) {
	slot := New(ChannelLive)

	tok, err := slot.TryBegin(context.Background())
	if err != nil {
		t.Fatalf("Expected first TryBegin to succeed, got %v", err)
	}

	if _, err := slot.TryBegin(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}

	tok.Complete(nil)

	if _, err := slot.TryBegin(context.Background()); err != nil {
		t.Errorf("Expected TryBegin after completion to succeed, got %v", err)
	}

	if got := slot.Stats().SkippedBusy; got != 1 {
		t.Errorf("Expected 1 busy skip, got %d", got)
	}
}

// TestCancelInvalidates verifies explicit cancellation frees the slot and
// invalidates the outstanding token.
func TestCancelInvalidates(t *testing.T) {
	slot := New(ChannelVideo)

	tok := slot.Begin(context.Background())
	if !slot.Cancel() {
		t.Fatal("Expected Cancel to report an aborted operation")
	}
	if slot.Cancel() {
		t.Error("Expected second Cancel to be a no-op")
	}

	if tok.Valid() {
		t.Error("Expected cancelled token to be invalid")
	}
	if tok.Complete(func() { t.Error("apply ran after cancel") }) {
		t.Error("Expected Complete after cancel to be refused")
	}
	if slot.Busy() {
		t.Error("Expected slot to be free after cancel")
	}
}

// TestCompleteAfterTransportDone simulates the underlying I/O finishing
// after cancellation: completing it must not mutate state.
func TestCompleteAfterTransportDone(t *testing.T) {
	slot := New(ChannelImage)
	tok := slot.Begin(context.Background())

	done := make(chan bool, 1)
	go func() {
		// Simulated transport: waits for abort, then tries to deliver.
		<-tok.Context().Done()
		done <- tok.Complete(func() {})
	}()

	slot.Cancel()

	select {
	case applied := <-done:
		if applied {
			t.Error("Expected late completion to be dropped")
		}
	case <-time.After(time.Second):
		t.Fatal("Transport goroutine did not finish")
	}
}

// TestReleaseIdempotent verifies Release can run alongside Complete
// without double-freeing.
func TestReleaseIdempotent(t *testing.T) {
	slot := New(ChannelSketch)

	tok := slot.Begin(context.Background())
	if !tok.Complete(nil) {
		t.Fatal("Expected Complete to succeed")
	}
	tok.Release()
	tok.Release()

	if slot.Busy() {
		t.Error("Expected slot free after release")
	}
	if got := slot.Stats().Completed; got != 1 {
		t.Errorf("Expected completed=1, got %d", got)
	}
}

// TestChannelsIndependent verifies cancelling one channel never disturbs
// another's in-flight operation.
func TestChannelsIndependent(t *testing.T) {
	table := NewTable()

	imgTok := table.Image.Begin(context.Background())
	vidTok := table.Video.Begin(context.Background())

	table.Video.Cancel()

	if !imgTok.Valid() {
		t.Error("Expected image operation to stay valid after video cancel")
	}
	if vidTok.Valid() {
		t.Error("Expected video operation to be invalid after cancel")
	}

	table.CancelAll()
	if imgTok.Valid() {
		t.Error("Expected CancelAll to invalidate the image operation")
	}
}

// TestParentCancelPropagates verifies tearing down the parent context
// invalidates the token without an explicit Cancel.
func TestParentCancelPropagates(t *testing.T) {
	slot := New(ChannelLive)

	parent, cancel := context.WithCancel(context.Background())
	tok, err := slot.TryBegin(parent)
	if err != nil {
		t.Fatalf("Expected TryBegin to succeed, got %v", err)
	}

	cancel()

	if tok.Valid() {
		t.Error("Expected token to be invalid after parent cancel")
	}
	if tok.Complete(func() { t.Error("apply ran after parent cancel") }) {
		t.Error("Expected Complete to be refused after parent cancel")
	}
}

// TestDoAppliesWhileCurrent verifies streaming units apply through Do
// until supersession, then are refused without releasing behavior.
func TestDoAppliesWhileCurrent(t *testing.T) {
	slot := New(ChannelVideo)

	tok := slot.Begin(context.Background())

	applied := 0
	if !tok.Do(func() { applied++ }) {
		t.Fatal("Expected Do to apply while token is current")
	}
	if !tok.Do(func() { applied++ }) {
		t.Fatal("Expected Do to keep applying across units")
	}
	if applied != 2 {
		t.Fatalf("Expected 2 applied units, got %d", applied)
	}
	if !slot.Busy() {
		t.Error("Expected slot to stay busy across Do calls")
	}

	// A newer stream supersedes; the old token's units must stop.
	slot.Begin(context.Background())
	if tok.Do(func() { applied++ }) {
		t.Error("Expected Do to refuse after supersession")
	}
	if applied != 2 {
		t.Errorf("Expected applied units unchanged after supersession, got %d", applied)
	}
}
