package agent

import (
	"fmt"
	"testing"

	"github.com/scoutagent/scout/session"
)

func modelTurnWithCalls(args ...string) session.Turn {
	t := session.Turn{Role: session.RoleModel}
	for i, a := range args {
		t.ToolCalls = append(t.ToolCalls, session.ToolCallRecord{
			ID:        fmt.Sprintf("c%d", i),
			Name:      "echo",
			Arguments: a,
		})
	}
	return t
}

func TestDetectLoopRepeatedSingleCall(t *testing.T) {
	var turns []session.Turn
	for i := 0; i < 5; i++ {
		turns = append(turns, modelTurnWithCalls(`{"text":"same"}`))
	}
	if !DetectLoop(turns, 4) {
		t.Error("expected loop for identical repeated calls")
	}
}

func TestDetectLoopAlternatingPair(t *testing.T) {
	var turns []session.Turn
	for i := 0; i < 3; i++ {
		turns = append(turns, modelTurnWithCalls(`{"text":"a"}`, `{"text":"b"}`))
	}
	if !DetectLoop(turns, 6) {
		t.Error("expected loop for repeating pair pattern")
	}
}

func TestDetectLoopTripletPattern(t *testing.T) {
	var turns []session.Turn
	for i := 0; i < 2; i++ {
		turns = append(turns, modelTurnWithCalls(`{"text":"a"}`, `{"text":"b"}`, `{"text":"c"}`))
	}
	if !DetectLoop(turns, 6) {
		t.Error("expected loop for repeating triplet pattern")
	}
}

func TestDetectLoopDistinctCalls(t *testing.T) {
	var turns []session.Turn
	for i := 0; i < 8; i++ {
		turns = append(turns, modelTurnWithCalls(fmt.Sprintf(`{"text":"step %d"}`, i)))
	}
	if DetectLoop(turns, 6) {
		t.Error("distinct calls should not be flagged as a loop")
	}
}

func TestDetectLoopInsufficientHistory(t *testing.T) {
	turns := []session.Turn{
		modelTurnWithCalls(`{"text":"same"}`),
		modelTurnWithCalls(`{"text":"same"}`),
	}
	if DetectLoop(turns, 6) {
		t.Error("short history should never trigger loop detection")
	}
}

func TestDetectLoopIgnoresNonModelTurns(t *testing.T) {
	var turns []session.Turn
	for i := 0; i < 5; i++ {
		turns = append(turns, session.UserTurn("keep going"))
		turns = append(turns, modelTurnWithCalls(`{"text":"same"}`))
	}
	if !DetectLoop(turns, 4) {
		t.Error("user turns between identical calls should not mask the loop")
	}
}

func TestToolCallSignatureDistinguishesArguments(t *testing.T) {
	a := toolCallSignature("echo", `{"text":"a"}`)
	b := toolCallSignature("echo", `{"text":"b"}`)
	if a == b {
		t.Error("different arguments should produce different signatures")
	}
	if a != toolCallSignature("echo", `{"text":"a"}`) {
		t.Error("signature should be deterministic")
	}
}

func TestDetectLoopTripletPatternWithIndivisibleWindow(t *testing.T) {
	var turns []session.Turn
	for i := 0; i < 4; i++ {
		turns = append(turns, modelTurnWithCalls(`{"text":"a"}`, `{"text":"b"}`, `{"text":"c"}`))
	}
	// 10 is not a multiple of 3; the check trims to the last 9 calls.
	if !DetectLoop(turns, 10) {
		t.Error("expected loop for repeating triplets with window 10")
	}
}

func TestDetectLoopDistinctCallsWithIndivisibleWindow(t *testing.T) {
	var turns []session.Turn
	for i := 0; i < 12; i++ {
		turns = append(turns, modelTurnWithCalls(fmt.Sprintf(`{"text":"step %d"}`, i)))
	}
	if DetectLoop(turns, 10) {
		t.Error("distinct calls should not be flagged as a loop")
	}
}
