package types

// ConflictType categorizes how two memories can disagree. Each type carries
// a severity used to pick the dominant conflict when several are detected
// for the same pair.
type ConflictType string

const (
	ConflictContent    ConflictType = "content"
	ConflictEmotion    ConflictType = "emotion"
	ConflictTime       ConflictType = "time"
	ConflictEntity     ConflictType = "entity"
	ConflictImportance ConflictType = "importance"
	ConflictTag        ConflictType = "tag"
)

// conflictSeverity ranks conflict types; higher wins when several conflicts
// are detected simultaneously.
var conflictSeverity = map[ConflictType]int{
	ConflictContent:    5,
	ConflictEmotion:    4,
	ConflictTime:       3,
	ConflictEntity:     3,
	ConflictImportance: 2,
	ConflictTag:        1,
}

// Severity returns the integer severity (1-5) of the conflict type.
// Unknown types rank lowest.
func (c ConflictType) Severity() int {
	return conflictSeverity[c]
}

// DominantConflict returns the highest-severity conflict in the slice.
// When severities tie, the earlier detection wins. Returns "" for an empty
// slice.
func DominantConflict(conflicts []ConflictType) ConflictType {
	var dominant ConflictType
	best := 0
	for _, c := range conflicts {
		if s := c.Severity(); s > best {
			best = s
			dominant = c
		}
	}
	return dominant
}

// ResolveStrategy names the strategy a resolution applied.
type ResolveStrategy string

const (
	StrategyKeepMoreImportant ResolveStrategy = "KEEP_MORE_IMPORTANT"
	StrategyKeepLatest        ResolveStrategy = "KEEP_LATEST"
	StrategyCreateCombined    ResolveStrategy = "CREATE_COMBINED"
	StrategyMergeSmart        ResolveStrategy = "MERGE_SMART"
)

// ConflictResolution is the outcome of resolving a conflict between two
// memories: the strategy applied, the resolved record, a human-readable
// explanation, and a confidence in [0.0, 1.0].
type ConflictResolution struct {
	Strategy    ResolveStrategy `json:"strategy"`
	Resolved    *Memory         `json:"resolved"`
	Explanation string          `json:"explanation"`
	Confidence  float64         `json:"confidence"`
}
