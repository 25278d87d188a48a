package startup

// Action is the indexing work a startup check asks for
type Action string

const (
	ActionNone        Action = "none"
	ActionFull        Action = "full"
	ActionIncremental Action = "incremental"
)

// Decision reasons
const (
	ReasonBlankProject     = "blank_project"
	ReasonNewProject       = "new_project"
	ReasonLargeProject     = "large_project_needs_manual_index"
	ReasonUpToDate         = "up_to_date"
	ReasonStaleIndex       = "stale_index"
	ReasonIncrementalCheck = "incremental"
)

// UnknownAgeMinutes is used when the index timestamp is missing or unreadable
const UnknownAgeMinutes = 9999

// Thresholds bound the decision table
type Thresholds struct {
	// MaxNewProjectFiles is the largest unindexed project indexed without asking
	MaxNewProjectFiles int `mapstructure:"max_new_project_files"`
	// MaxChangedFiles is the largest change set handled incrementally
	MaxChangedFiles int `mapstructure:"max_changed_files"`
	// MaxAgeMinutes is how old an index may get before a full rebuild
	MaxAgeMinutes int `mapstructure:"max_age_minutes"`
}

// DefaultThresholds returns the stock limits
func DefaultThresholds() Thresholds {
	return Thresholds{MaxNewProjectFiles: 50, MaxChangedFiles: 50, MaxAgeMinutes: 60}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.MaxNewProjectFiles <= 0 {
		t.MaxNewProjectFiles = d.MaxNewProjectFiles
	}
	if t.MaxChangedFiles <= 0 {
		t.MaxChangedFiles = d.MaxChangedFiles
	}
	if t.MaxAgeMinutes <= 0 {
		t.MaxAgeMinutes = d.MaxAgeMinutes
	}
	return t
}

// Inputs is the project state a decision is made from
type Inputs struct {
	HasMetadata bool
	// FileCount is the number of indexable files on disk
	FileCount int
	// IndexAgeMinutes is negative when unknown
	IndexAgeMinutes int
	// ChangedCount is modified plus added plus deleted files
	ChangedCount int
}

// Decision is the outcome of the decision table
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
	// Silent decisions are routine maintenance and are only logged at debug level
	Silent bool   `json:"silent"`
	Hint   string `json:"hint,omitempty"`
}

// Background reports whether the decision dispatches work
func (d Decision) Background() bool {
	return d.Action != ActionNone
}

// ManualIndexHint is surfaced for large projects without an index
const ManualIndexHint = "run 'codekb index' to enable code intelligence for this project (one-time operation)"

// Decide applies the decision table to in; the first matching rule wins
func Decide(in Inputs, t Thresholds) Decision {
	t = t.withDefaults()

	if !in.HasMetadata {
		switch {
		case in.FileCount == 0:
			return Decision{Action: ActionNone, Reason: ReasonBlankProject, Silent: true}
		case in.FileCount <= t.MaxNewProjectFiles:
			return Decision{Action: ActionFull, Reason: ReasonNewProject}
		default:
			return Decision{Action: ActionNone, Reason: ReasonLargeProject, Hint: ManualIndexHint}
		}
	}

	age := in.IndexAgeMinutes
	if age < 0 {
		age = UnknownAgeMinutes
	}
	switch {
	case in.ChangedCount == 0:
		return Decision{Action: ActionNone, Reason: ReasonUpToDate, Silent: true}
	case age > t.MaxAgeMinutes || in.ChangedCount > t.MaxChangedFiles:
		return Decision{Action: ActionFull, Reason: ReasonStaleIndex}
	default:
		return Decision{Action: ActionIncremental, Reason: ReasonIncrementalCheck, Silent: true}
	}
}
