package main

import "fmt"

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon
// loop's effects stage. The reducer requests them; it never performs them.
type Command interface {
	commandMarker()
	String() string
}

// CmdForwardStep forwards decoded detents to the downstream sink.
// Steps is the signed detent count for this change; Position is the logical
// position after applying it.
type CmdForwardStep struct {
	Encoder  string
	Steps    int32
	Position int64
}

func (CmdForwardStep) commandMarker() {}
func (c CmdForwardStep) String() string {
	return fmt.Sprintf("CmdForwardStep(encoder=%s steps=%d position=%d)", c.Encoder, c.Steps, c.Position)
}

// CmdPublishStateSnapshot delivers a reducer-produced snapshot to the
// requester. The channel send happens in the effects stage, which keeps the
// reducer pure.
type CmdPublishStateSnapshot struct {
	Snapshot StateSnapshot
	Reply    chan StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }
