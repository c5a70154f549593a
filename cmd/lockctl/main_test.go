package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunUsage(t *testing.T) {
	var out bytes.Buffer
	path := writeConfig(t, "backend: memory\n")

	for _, args := range [][]string{
		{"-config", path},
		{"-config", path, "status"},
		{"-config", path, "release", "a", "b"},
		{"-config", path, "purge", "a"},
		{"-unknown-flag"},
	} {
		assert.ErrorIs(t, run(context.Background(), args, &out), errUsage, "args %v", args)
	}
}

func TestRunMemoryStatus(t *testing.T) {
	var out bytes.Buffer
	path := writeConfig(t, "backend: memory\n")

	require.NoError(t, run(context.Background(), []string{"-config", path, "status", "jobs"}, &out))
	assert.Equal(t, "jobs free\n", out.String())
}

func TestRunRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("ops:jobs", "some-owner"))

	path := writeConfig(t, "backend: redis\nprefix: \"ops:\"\nredis:\n  addr: "+mr.Addr()+"\n")
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"-config", path, "status", "jobs"}, &out))
	assert.Equal(t, "jobs locked\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, []string{"-config", path, "release", "jobs"}, &out))
	assert.Equal(t, "jobs released\n", out.String())
	assert.False(t, mr.Exists("ops:jobs"))

	out.Reset()
	require.NoError(t, run(ctx, []string{"-config", path, "status", "jobs"}, &out))
	assert.Equal(t, "jobs free\n", out.String())
}

func TestRunSQLite(t *testing.T) {
	db := filepath.Join(t.TempDir(), "locks.db")
	path := writeConfig(t, "backend: sqlite\nsqlite:\n  path: "+db+"\n")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-config", path, "release", "jobs"}, &out))
	assert.Equal(t, "jobs released\n", out.String())

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"-config", path, "status", "jobs"}, &out))
	assert.Equal(t, "jobs free\n", out.String())
}
