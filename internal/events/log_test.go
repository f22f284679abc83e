package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tiss-anexos/intake/internal/models"
)

func TestLog_AddAndSince(t *testing.T) {
	l := NewLog(0)
	fixed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	first := l.Add(models.LevelInfo, "starting")
	l.Add(models.LevelSuccess, "done")

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, fixed, first.Time)

	all := l.Since(0)
	require.Len(t, all, 2)
	assert.Equal(t, "done", all[1].Message)

	later := l.Since(first.Seq)
	require.Len(t, later, 1)
	assert.Equal(t, models.LevelSuccess, later[0].Level)
}

func TestLog_Capacity(t *testing.T) {
	l := NewLog(2)
	l.Add(models.LevelInfo, "a")
	l.Add(models.LevelInfo, "b")
	l.Add(models.LevelInfo, "c")

	got := l.Since(0)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Message)
	assert.Equal(t, int64(3), got[1].Seq)
}

func TestLog_Clear(t *testing.T) {
	l := NewLog(0)
	l.Add(models.LevelError, "boom")
	l.Clear()

	got := l.Since(0)
	require.Len(t, got, 1)
	assert.Equal(t, "Console cleared", got[0].Message)
}

func TestLog_Subscribe(t *testing.T) {
	l := NewLog(0)
	ch, cancel := l.Subscribe(1)

	l.Add(models.LevelInfo, "one")
	// Buffer is full; this one is dropped for the subscriber but kept in the log
	l.Add(models.LevelInfo, "two")

	ev := <-ch
	assert.Equal(t, "one", ev.Message)
	assert.Len(t, l.Since(0), 2)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Adding after unsubscribe must not panic on the closed channel
	l.Add(models.LevelInfo, "three")
}

func TestEmitfAndTee(t *testing.T) {
	a, b := NewLog(0), NewLog(0)
	Emitf(Tee(a, b, nil), models.LevelWarning, "batch %d/%d", 1, 3)
	Emitf(nil, models.LevelInfo, "ignored")

	for _, l := range []*Log{a, b} {
		got := l.Since(0)
		require.Len(t, got, 1)
		assert.Equal(t, "batch 1/3", got[0].Message)
		assert.Equal(t, models.LevelWarning, got[0].Level)
	}
}
