package startup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name   string
		in     Inputs
		action Action
		reason string
	}{
		{"blank project", Inputs{FileCount: 0}, ActionNone, ReasonBlankProject},
		{"small new project", Inputs{FileCount: 30}, ActionFull, ReasonNewProject},
		{"new project at limit", Inputs{FileCount: 50}, ActionFull, ReasonNewProject},
		{"large new project", Inputs{FileCount: 51}, ActionNone, ReasonLargeProject},
		{"up to date", Inputs{HasMetadata: true, FileCount: 10, IndexAgeMinutes: 500}, ActionNone, ReasonUpToDate},
		{"age dominates small change", Inputs{HasMetadata: true, FileCount: 10, IndexAgeMinutes: 120, ChangedCount: 5}, ActionFull, ReasonStaleIndex},
		{"many changes", Inputs{HasMetadata: true, FileCount: 100, IndexAgeMinutes: 5, ChangedCount: 51}, ActionFull, ReasonStaleIndex},
		{"unknown age is stale", Inputs{HasMetadata: true, FileCount: 10, IndexAgeMinutes: -1, ChangedCount: 1}, ActionFull, ReasonStaleIndex},
		{"few changes", Inputs{HasMetadata: true, FileCount: 10, IndexAgeMinutes: 5, ChangedCount: 3}, ActionIncremental, ReasonIncrementalCheck},
		{"changes at limit", Inputs{HasMetadata: true, FileCount: 100, IndexAgeMinutes: 60, ChangedCount: 50}, ActionIncremental, ReasonIncrementalCheck},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.in, DefaultThresholds())
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestDecideFlags(t *testing.T) {
	large := Decide(Inputs{FileCount: 500}, Thresholds{})
	assert.False(t, large.Background())
	assert.NotEmpty(t, large.Hint)

	inc := Decide(Inputs{HasMetadata: true, IndexAgeMinutes: 1, ChangedCount: 1}, Thresholds{})
	assert.True(t, inc.Background())
	assert.True(t, inc.Silent)

	full := Decide(Inputs{FileCount: 1}, Thresholds{})
	assert.False(t, full.Silent)
}

func TestDecideCustomThresholds(t *testing.T) {
	th := Thresholds{MaxNewProjectFiles: 5, MaxChangedFiles: 2, MaxAgeMinutes: 10}
	assert.Equal(t, ReasonLargeProject, Decide(Inputs{FileCount: 6}, th).Reason)
	assert.Equal(t, ReasonStaleIndex, Decide(Inputs{HasMetadata: true, IndexAgeMinutes: 1, ChangedCount: 3}, th).Reason)
	assert.Equal(t, ReasonStaleIndex, Decide(Inputs{HasMetadata: true, IndexAgeMinutes: 11, ChangedCount: 1}, th).Reason)
}
