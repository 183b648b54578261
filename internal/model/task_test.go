package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidEnrichmentKind(t *testing.T) {
	for _, k := range AllEnrichmentKinds {
		assert.True(t, ValidEnrichmentKind(k), string(k))
	}
	assert.False(t, ValidEnrichmentKind("social"))
	assert.False(t, ValidEnrichmentKind(""))
}

func TestTaskResultOK(t *testing.T) {
	assert.True(t, TaskResult{Kind: EnrichPhone, Status: TaskSuccess}.OK())
	assert.False(t, TaskResult{Kind: EnrichPhone, Status: TaskFailed}.OK())
	assert.False(t, TaskResult{Kind: EnrichPhone, Status: TaskTimedOut}.OK())
	assert.False(t, TaskResult{Kind: EnrichPhone, Status: TaskSkipped}.OK())
}
