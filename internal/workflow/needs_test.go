package workflow

import "testing"

func TestExtractNeedsSentinel(t *testing.T) {
	if needs := ExtractNeeds("Main response here.\n\nAdditional Needs: none"); len(needs) != 0 {
		t.Fatalf("expected no needs, got %v", needs)
	}
}

func TestExtractNeedsBulletList(t *testing.T) {
	text := "Findings summarized above.\n\nAdditional Needs:\n- [WebSearchAnalyst] Find recent reports on X\n- [MainAgent] Ask user to clarify timeframe"
	needs := ExtractNeeds(text)
	if len(needs) != 2 {
		t.Fatalf("expected 2 needs, got %v", needs)
	}
	if needs[0].RawText != "[WebSearchAnalyst] Find recent reports on X" {
		t.Fatalf("need[0] = %q", needs[0].RawText)
	}
	if needs[0].TargetWorker != "WebSearchAnalyst" {
		t.Fatalf("target = %q", needs[0].TargetWorker)
	}
	if needs[0].Request() != "Find recent reports on X" {
		t.Fatalf("request = %q", needs[0].Request())
	}
	if needs[1].TargetWorker != "MainAgent" {
		t.Fatalf("target[1] = %q", needs[1].TargetWorker)
	}
}

func TestExtractNeedsSentinelCancelsWholeList(t *testing.T) {
	text := "Additional Needs:\n- [WebAgent] verify sources\n- none"
	if needs := ExtractNeeds(text); len(needs) != 0 {
		t.Fatalf("sentinel should cancel the whole list, got %v", needs)
	}
}

func TestExtractNeedsTargetedSentinelNotCancellation(t *testing.T) {
	// The sentinel check covers the whole normalized line, so a
	// targeted "[MainAgent] none" is kept as a literal need.
	text := "Additional Needs:\n- [MainAgent] none"
	needs := ExtractNeeds(text)
	if len(needs) != 1 || needs[0].RawText != "[MainAgent] none" {
		t.Fatalf("expected literal targeted need, got %v", needs)
	}
}

func TestExtractNeedsStructuredField(t *testing.T) {
	text := `{"response": "done", "additional_needs": ["[PaperAnalyst] pull citations", "", "[PaperAnalyst] pull citations"]}`
	needs := ExtractNeeds(text)
	if len(needs) != 1 {
		t.Fatalf("expected deduped single need, got %v", needs)
	}
	if needs[0].TargetWorker != "PaperAnalyst" {
		t.Fatalf("target = %q", needs[0].TargetWorker)
	}
}

func TestExtractNeedsStructuredSentinel(t *testing.T) {
	text := `{"additional_needs": ["[WebAgent] check", "none"]}`
	if needs := ExtractNeeds(text); len(needs) != 0 {
		t.Fatalf("structured sentinel should cancel list, got %v", needs)
	}
}

func TestExtractNeedsInlineValue(t *testing.T) {
	needs := ExtractNeeds("Additional Needs: [SnsAnalyst] check trending posts")
	if len(needs) != 1 || needs[0].TargetWorker != "SnsAnalyst" {
		t.Fatalf("needs = %v", needs)
	}
}

func TestExtractNeedsStopsAtSectionHeader(t *testing.T) {
	text := "Additional Needs:\n- [WebAgent] verify dates\nNext Steps:\n- irrelevant"
	needs := ExtractNeeds(text)
	if len(needs) != 1 {
		t.Fatalf("expected scan to stop at header, got %v", needs)
	}
}

func TestExtractNeedsNoMarker(t *testing.T) {
	if needs := ExtractNeeds("Plain response with no follow-ups."); len(needs) != 0 {
		t.Fatalf("expected empty, got %v", needs)
	}
}

func TestNormalizeNeedText(t *testing.T) {
	if got := NormalizeNeedText("  - 1.   fetch   data  "); got != "fetch data" {
		t.Fatalf("got %q", got)
	}
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'a'
	}
	if got := NormalizeNeedText(string(long)); len(got) != 300 {
		t.Fatalf("expected 300-char cap, got %d", len(got))
	}
}

func TestNeedTrackerDedup(t *testing.T) {
	tr := NewNeedTracker()
	tr.AddTexts("[WebAgent] verify sources", "[webagent] VERIFY sources", "[PaperAnalyst] pull refs")
	if tr.Len() != 2 {
		t.Fatalf("expected case-insensitive dedup, got %d entries", tr.Len())
	}
	needs := tr.Needs()
	if needs[0].RawText != "[WebAgent] verify sources" {
		t.Fatalf("insertion order lost: %v", needs)
	}
}

func TestNeedTrackerRemove(t *testing.T) {
	tr := NewNeedTracker()
	tr.AddTexts("[A] one", "[B] two", "[C] three")
	tr.Remove(map[string]bool{NeedKey("[B] two"): true})
	needs := tr.Needs()
	if len(needs) != 2 || needs[0].RawText != "[A] one" || needs[1].RawText != "[C] three" {
		t.Fatalf("unexpected needs after removal: %v", needs)
	}
	// Removed keys can be re-added.
	tr.AddTexts("[B] two")
	if tr.Len() != 3 {
		t.Fatalf("expected re-add after removal, got %d", tr.Len())
	}
}
