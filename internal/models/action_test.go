package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAction_SetIgnoresEmpty(t *testing.T) {
	a := NewAction().Set(KeySessionID, "1234").Set(KeySessionID, "")
	assert.Equal(t, "1234", a.SessionID())
}

func TestAction_Replace(t *testing.T) {
	a := NewAction().Set(KeySessionID, "1234")

	a.Replace(KeySessionID, "5678")
	assert.Equal(t, "5678", a.SessionID())

	a.Replace(KeySessionID, "")
	_, ok := a.Properties[KeySessionID]
	assert.False(t, ok)

	var empty Action
	empty.Replace(KeySessionID, "")
	empty.Replace(KeySessionID, "1")
	assert.Equal(t, "1", empty.SessionID())
}
