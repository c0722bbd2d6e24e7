package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandle_SetAndUnsetFlags(t *testing.T) {
	h := &Handle{}

	h.SetFlags(Flags{AutoManaged: true})
	assert.Equal(t, Flags{AutoManaged: true, Paused: false}, h.Flags())

	h.SetFlags(Flags{Paused: true})
	assert.Equal(t, Flags{AutoManaged: true, Paused: true}, h.Flags(), "setting one flag must not clear the other")

	h.UnsetFlags(Flags{AutoManaged: true})
	assert.Equal(t, Flags{AutoManaged: false, Paused: true}, h.Flags())
}

func TestHandle_SetSavePathIsVisibleImmediately(t *testing.T) {
	h := &Handle{}
	h.SetSavePath("/downloads/movies")
	assert.Equal(t, "/downloads/movies", h.savePath)
}

func TestHandle_MarkAndClearDirty(t *testing.T) {
	h := &Handle{}
	assert.False(t, h.needSaveResume)

	h.markDirty()
	assert.True(t, h.needSaveResume)

	h.clearDirty()
	assert.False(t, h.needSaveResume)
}

func TestHandle_UserdataRoundTrips(t *testing.T) {
	h := &Handle{}
	assert.Nil(t, h.Userdata())

	h.SetUserdata("payload")
	assert.Equal(t, "payload", h.Userdata())
}

func TestHandle_IsValidDefaultsFalse(t *testing.T) {
	h := &Handle{}
	assert.False(t, h.IsValid())

	h.valid = true
	assert.True(t, h.IsValid())
}

func TestToAnacrolixPriority(t *testing.T) {
	assert.NotEqual(t, toAnacrolixPriority(PriorityDontDownload), toAnacrolixPriority(PriorityTop))
	assert.NotEqual(t, toAnacrolixPriority(PriorityDefault), toAnacrolixPriority(PriorityTop))
}
