package pipeline

import "strings"

// Stage is an item's position in the pipeline.
type Stage int

const (
	StageGate Stage = iota
	StageCopy
	StageDecrypt
	StageExtract
	StageRemove
	StageTerminal
)

var stageNames = [...]string{
	StageGate:     "gate",
	StageCopy:     "copy",
	StageDecrypt:  "decrypt",
	StageExtract:  "extract",
	StageRemove:   "remove",
	StageTerminal: "terminal",
}

// String returns the lowercase stage name used in ledger markers and logs.
func (s Stage) String() string {
	if s < StageGate || s > StageTerminal {
		return "unknown"
	}
	return stageNames[s]
}

// Ledgered reports whether completion of s is recorded in the ledger.
func (s Stage) Ledgered() bool {
	return s == StageCopy || s == StageDecrypt || s == StageExtract
}

// ParseStage resolves a stage name case-insensitively.
func ParseStage(name string) (Stage, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, candidate := range stageNames {
		if candidate == name {
			return Stage(i), true
		}
	}
	return StageGate, false
}

// LedgerStages lists the names of ledgered stages in pipeline order.
func LedgerStages() []string {
	return []string{StageCopy.String(), StageDecrypt.String(), StageExtract.String()}
}
