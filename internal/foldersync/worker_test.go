package foldersync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mailsync/core/internal/models"
)

func TestUIDInvalidStateFromPoll(t *testing.T) {
	assert.Equal(t, models.StatePollUIDInvalid, uidInvalidState(models.StatePoll))
}

func TestUIDInvalidStateFromInitial(t *testing.T) {
	assert.Equal(t, models.StateInitialUIDInvalid, uidInvalidState(models.StateInitial))
}

func TestNewWorkerStateDefaultsToInitial(t *testing.T) {
	w := &Worker{}
	assert.Equal(t, models.StateInitial, w.State())
}
