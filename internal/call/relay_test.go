package call

import (
	"bytes"
	"testing"
)

func TestRelay_BargeInElapsed(t *testing.T) {
	t.Parallel()
	r := NewRelay()

	r.NoteInbound(100)
	r.NoteOutbound("item_1") // playback pinned to inbound clock at 100
	r.NoteInbound(350)

	itemID, elapsed, ok := r.BargeIn()
	if !ok {
		t.Fatal("BargeIn should report ok while audio is playing")
	}
	if itemID != "item_1" {
		t.Errorf("itemID = %q", itemID)
	}
	if elapsed != 250 {
		t.Errorf("elapsed = %d, want 250", elapsed)
	}
}

func TestRelay_BargeInIdleIsNoop(t *testing.T) {
	t.Parallel()
	r := NewRelay()

	r.NoteInbound(100)
	if _, _, ok := r.BargeIn(); ok {
		t.Error("BargeIn with no assistant audio should report ok = false")
	}

	// A second interruption during the same pause is also a no-op.
	r.NoteOutbound("item_1")
	if _, _, ok := r.BargeIn(); !ok {
		t.Fatal("first BargeIn should fire")
	}
	if _, _, ok := r.BargeIn(); ok {
		t.Error("second BargeIn without new audio should be a no-op")
	}
}

func TestRelay_BargeInNeverNegative(t *testing.T) {
	t.Parallel()
	r := NewRelay()

	r.NoteInbound(500)
	r.NoteOutbound("item_1")
	// Inbound clock resets (new stream quirk) below playback start.
	r.NoteInbound(20)

	_, elapsed, ok := r.BargeIn()
	if !ok {
		t.Fatal("BargeIn should fire")
	}
	if elapsed != 0 {
		t.Errorf("elapsed = %d, want clamped to 0", elapsed)
	}
}

func TestRelay_LatestItemWins(t *testing.T) {
	t.Parallel()
	r := NewRelay()

	r.NoteInbound(10)
	r.NoteOutbound("item_1")
	r.NoteOutbound("") // deltas without an item id keep the previous one
	r.NoteOutbound("item_2")

	itemID, _, ok := r.BargeIn()
	if !ok || itemID != "item_2" {
		t.Errorf("itemID = %q, ok = %v; want item_2", itemID, ok)
	}
}

func TestRelay_Marks(t *testing.T) {
	t.Parallel()
	r := NewRelay()

	if r.MarkConsumed() {
		t.Error("MarkConsumed with no outstanding marks should be false")
	}
	r.NoteInbound(0)
	r.NoteOutbound("a")
	r.NoteOutbound("a")
	if !r.MarkConsumed() || !r.MarkConsumed() {
		t.Error("two outstanding marks should be consumable")
	}
	if r.MarkConsumed() {
		t.Error("third consume should be false")
	}
}

func TestRelay_ResetPlayback(t *testing.T) {
	t.Parallel()
	r := NewRelay()

	r.NoteInbound(100)
	r.NoteOutbound("item_1")
	r.ResetPlayback()

	if _, _, ok := r.BargeIn(); ok {
		t.Error("BargeIn after reset should be a no-op")
	}
}

func TestRelay_UtteranceBuffer(t *testing.T) {
	t.Parallel()
	r := NewRelay()

	r.AppendUtterance([]byte{1, 2})
	r.AppendUtterance([]byte{3})
	got := r.TakeUtterance()
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("utterance = %v", got)
	}
	if r.TakeUtterance() != nil {
		t.Error("second take should return nil")
	}
}
