package intentgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransitionAllowed(t *testing.T) {
	cases := []struct {
		from, to Status
	}{
		{StatusActive, StatusSuspended},
		{StatusActive, StatusCompleted},
		{StatusActive, StatusFailed},
		{StatusActive, StatusArchived},
		{StatusSuspended, StatusActive},
		{StatusSuspended, StatusArchived},
		{StatusFailed, StatusActive},
		{StatusFailed, StatusArchived},
		{StatusCompleted, StatusArchived},
	}
	for _, c := range cases {
		assert.NoError(t, ValidateTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestValidateTransitionRejected(t *testing.T) {
	cases := []struct {
		from, to Status
	}{
		{StatusArchived, StatusActive},
		{StatusCompleted, StatusActive},
		{StatusCompleted, StatusSuspended},
		{StatusSuspended, StatusCompleted},
		{StatusFailed, StatusCompleted},
		{StatusActive, StatusActive},
	}
	for _, c := range cases {
		assert.Error(t, ValidateTransition(c.from, c.to), "%s -> %s should be rejected", c.from, c.to)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := StorableIntent{
		IntentID:     "i1",
		ChildIntents: []string{"a", "b"},
		Metadata:     map[string]interface{}{"k": "v"},
	}
	c := s.Clone()
	c.ChildIntents[0] = "changed"
	c.Metadata["k"] = "other"

	assert.Equal(t, "a", s.ChildIntents[0])
	assert.Equal(t, "v", s.Metadata["k"])
}
