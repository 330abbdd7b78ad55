package blocklist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/tidum/internal/suggestions/db/dbtest"
	"github.com/runger/tidum/internal/suggestions/policy"
)

func TestAdd_Idempotent(t *testing.T) {
	t.Parallel()
	db := dbtest.Open(t)
	ctx := context.Background()
	now := time.UnixMilli(1000)

	changed, err := Add(ctx, db, "u1", policy.CategoryProjects, "projectX", now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = Add(ctx, db, "u1", policy.CategoryProjects, "projectX", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed, "re-adding must not change the set")

	list, err := Load(ctx, db, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"projectX"}, list.Projects)
}

func TestRemove_AbsentIsNoop(t *testing.T) {
	t.Parallel()
	db := dbtest.Open(t)
	ctx := context.Background()

	changed, err := Remove(ctx, db, "u1", policy.CategoryDescriptions, "never-added")
	require.NoError(t, err)
	assert.False(t, changed)

	list, err := Load(ctx, db, "u1")
	require.NoError(t, err)
	assert.Empty(t, list.Descriptions)
}

func TestAddRemove_RoundTrip(t *testing.T) {
	t.Parallel()
	db := dbtest.Open(t)
	ctx := context.Background()

	_, err := Add(ctx, db, "u1", policy.CategoryCaseIDs, "case-7", time.UnixMilli(1))
	require.NoError(t, err)
	changed, err := Remove(ctx, db, "u1", policy.CategoryCaseIDs, "case-7")
	require.NoError(t, err)
	assert.True(t, changed)

	list, err := Load(ctx, db, "u1")
	require.NoError(t, err)
	assert.Empty(t, list.CaseIDs)
}

func TestLoad_SeparatesCategoriesAndUsers(t *testing.T) {
	t.Parallel()
	db := dbtest.Open(t)
	ctx := context.Background()

	_, _ = Add(ctx, db, "u1", policy.CategoryProjects, "p1", time.UnixMilli(1))
	_, _ = Add(ctx, db, "u1", policy.CategoryDescriptions, "meeting", time.UnixMilli(2))
	_, _ = Add(ctx, db, "u1", policy.CategoryProjects, "p2", time.UnixMilli(3))
	_, _ = Add(ctx, db, "u2", policy.CategoryProjects, "p9", time.UnixMilli(4))

	list, err := Load(ctx, db, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, list.Projects)
	assert.Equal(t, []string{"meeting"}, list.Descriptions)
	assert.Empty(t, list.CaseIDs)
	assert.True(t, list.Contains(policy.CategoryProjects, "p2"))
	assert.False(t, list.Contains(policy.CategoryProjects, "p9"))
}

func TestAdd_Validation(t *testing.T) {
	t.Parallel()
	db := dbtest.Open(t)
	ctx := context.Background()

	_, err := Add(ctx, db, "", policy.CategoryProjects, "x", time.Now())
	assert.Error(t, err)

	_, err = Add(ctx, db, "u1", policy.Category("clients"), "x", time.Now())
	require.Error(t, err)
	assert.True(t, policy.IsValidation(err))
}
