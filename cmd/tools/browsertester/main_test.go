package main

import (
	"testing"

	model "github.com/zhouzirui/tabcast/backend/internal/model/browser"
)

func TestParseSteps(t *testing.T) {
	steps, err := parseSteps("key:Control+a, type:hello,scroll,click:10;20")
	if err != nil {
		t.Fatalf("parseSteps err: %v", err)
	}
	if len(steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(steps))
	}
	if steps[0].Kind != model.ActionKey || steps[0].Key != "Control+a" {
		t.Fatalf("unexpected key step %+v", steps[0])
	}
	if steps[1].Text != "hello" || steps[2].Kind != model.ActionScroll {
		t.Fatalf("unexpected steps %+v", steps[1:3])
	}
	if steps[3].X != 10 || steps[3].Y != 20 {
		t.Fatalf("unexpected click step %+v", steps[3])
	}

	if _, err := parseSteps("teleport"); err == nil {
		t.Fatal("expected error for unknown action")
	}
	if _, err := parseSteps("click:nope"); err == nil {
		t.Fatal("expected error for bad click")
	}
}
