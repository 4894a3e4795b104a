package sdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/sdb-dap/internal/errors"
)

func TestManager_CreateGetTerminate(t *testing.T) {
	m := NewManager(testOptions(), 2, 0)
	defer m.Close()

	first, err := m.Create()
	require.NoError(t, err)
	second, err := m.Create()
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = m.Create()
	assert.True(t, errors.HasCode(err, errors.CodeSessionLimitReached))

	got, err := m.Get(first.ID)
	require.NoError(t, err)
	assert.Same(t, first, got)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	info := list[0].Info()
	assert.Equal(t, "idle", info.State)
	assert.Equal(t, first.ID, info.SessionID)

	require.NoError(t, m.Terminate(first.ID))
	_, err = m.Get(first.ID)
	assert.True(t, errors.HasCode(err, errors.CodeSessionNotFound))
	assert.True(t, errors.HasCode(m.Terminate(first.ID), errors.CodeSessionNotFound))

	// the terminated runtime's events channel is closed
	for range first.Runtime.Events() {
	}

	_, err = m.Create()
	assert.NoError(t, err)
}

func TestManager_ExpiresSessions(t *testing.T) {
	m := NewManager(testOptions(), 5, 30*time.Millisecond)
	defer m.Close()

	session, err := m.Create()
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := m.Get(session.ID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCleanupInterval(t *testing.T) {
	assert.Equal(t, time.Minute, cleanupInterval(time.Hour))
	assert.Equal(t, 15*time.Second, cleanupInterval(30*time.Second))
	assert.Equal(t, 10*time.Millisecond, cleanupInterval(time.Millisecond))
}
