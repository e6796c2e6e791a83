package chatmem_test

import (
	"context"
	"testing"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
)

func TestStore_MergeCharacters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t, 10)

	n := s.MergeCharacters(ctx, []chatmem.CharacterEntry{
		{Name: "Mira", Role: "guide", Traits: []string{"calm", " ", "curious"}},
		{Name: "Jun", FirstAppearance: chatmem.IntPtr(2)},
		{Name: "  "},
	}, 4)
	if n != 2 {
		t.Fatalf("merged %d, want 2", n)
	}

	m := s.Memory(ctx)
	mira := m.Characters["Mira"]
	if mira.FirstAppearance == nil || *mira.FirstAppearance != 4 {
		t.Errorf("Mira.FirstAppearance = %v, want fallback 4", mira.FirstAppearance)
	}
	if len(mira.Traits) != 2 {
		t.Errorf("Mira.Traits = %v", mira.Traits)
	}
	if j := m.Characters["Jun"]; j.FirstAppearance == nil || *j.FirstAppearance != 2 {
		t.Errorf("Jun.FirstAppearance = %v, want 2", j.FirstAppearance)
	}

	// Empty fields never erase; equal fields are no change.
	n = s.MergeCharacters(ctx, []chatmem.CharacterEntry{
		{Name: "Mira", Role: "", Occupation: "cartographer"},
		{Name: "Jun"},
	}, 9)
	if n != 1 {
		t.Errorf("second merge = %d, want 1", n)
	}
	mira = s.Memory(ctx).Characters["Mira"]
	if mira.Role != "guide" || mira.Occupation != "cartographer" || *mira.FirstAppearance != 4 {
		t.Errorf("Mira after update = %+v", mira)
	}
}

func TestStore_MergeEventsAndItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t, 10)

	if n := s.MergeEvents(ctx, []chatmem.EventEntry{{Title: "The Storm", Importance: "high"}}, 3); n != 1 {
		t.Fatalf("MergeEvents = %d", n)
	}
	if n := s.MergeEvents(ctx, []chatmem.EventEntry{{Title: "the storm", Description: "ship lost"}}, 5); n != 1 {
		t.Fatalf("MergeEvents update = %d", n)
	}
	ev := s.RelevantEvents(ctx)
	if len(ev) != 1 {
		t.Fatalf("events = %+v", ev)
	}
	if ev[0].Title != "The Storm" || ev[0].Description != "ship lost" || ev[0].Importance != chatmem.ImportanceHigh {
		t.Errorf("event = %+v", ev[0])
	}
	if ev[0].MessageIndex == nil || *ev[0].MessageIndex != 3 {
		t.Errorf("MessageIndex = %v, want 3", ev[0].MessageIndex)
	}

	s.MergeItems(ctx, []chatmem.ItemEntry{{Name: "Lantern", Owner: "Mira"}}, 1)
	s.MergeItems(ctx, []chatmem.ItemEntry{{Name: "LANTERN", Status: "broken"}}, 2)
	items := s.RelevantItems(ctx)
	if len(items) != 1 || items[0].Owner != "Mira" || items[0].Status != "broken" {
		t.Errorf("items = %+v", items)
	}

	if !s.DeleteEvent(ctx, ev[0].ID) || s.DeleteEvent(ctx, ev[0].ID) {
		t.Error("DeleteEvent should succeed exactly once")
	}
	if !s.DeleteItem(ctx, items[0].ID) {
		t.Error("DeleteItem failed")
	}
}

func TestStore_RelevantCharactersOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, h := newTestStore(t, 10)
	s.MergeCharacters(ctx, []chatmem.CharacterEntry{
		{Name: "Zed", FirstAppearance: chatmem.IntPtr(1)},
		{Name: "Ann", FirstAppearance: chatmem.IntPtr(6)},
		{Name: "Bo", FirstAppearance: chatmem.IntPtr(1)},
		{Name: "Unknown"},
	}, -1)

	var names []string
	for _, c := range s.RelevantCharacters(ctx) {
		names = append(names, c.Name)
	}
	want := []string{"Bo", "Zed", "Ann", "Unknown"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}

	// Shrinking the chat hides characters introduced later.
	h.DeleteMessage(9)
	h.DeleteMessage(8)
	h.DeleteMessage(7)
	h.DeleteMessage(6)
	if got := len(s.RelevantCharacters(ctx)); got != 3 {
		t.Errorf("relevant after shrink = %d, want 3", got)
	}
	if !s.DeleteCharacter(ctx, "Ann") || s.DeleteCharacter(ctx, "Ann") {
		t.Error("DeleteCharacter should succeed exactly once")
	}
}
