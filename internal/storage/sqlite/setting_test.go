package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stplan/sheetsweep/internal/model"
)

func TestSettingSetAndGet(t *testing.T) {
	assert := assert.New(t)
	repo := getTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SetSetting(ctx, model.Setting{
		Key:         model.SettingSheetName,
		Value:       "data",
		Description: "worksheet the sweep writes to",
	}))

	setting, err := repo.GetSetting(ctx, model.SettingSheetName)
	require.NoError(t, err)
	assert.Equal("data", setting.Value)
	assert.Equal("worksheet the sweep writes to", setting.Description)
	assert.False(setting.UpdatedAt.IsZero())

	_, err = repo.GetSetting(ctx, "missing")
	assert.ErrorIs(err, model.ErrNotFound)
}

func TestSettingUpsertKeepsDescription(t *testing.T) {
	assert := assert.New(t)
	repo := getTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SetSetting(ctx, model.Setting{
		Key:         model.SettingMaxPollAttempts,
		Value:       "60",
		Description: "poll attempt budget per combination",
	}))
	require.NoError(t, repo.SetSetting(ctx, model.Setting{
		Key:   model.SettingMaxPollAttempts,
		Value: "30",
	}))

	setting, err := repo.GetSetting(ctx, model.SettingMaxPollAttempts)
	require.NoError(t, err)
	assert.Equal("30", setting.Value)
	assert.Equal("poll attempt budget per combination", setting.Description)
}

func TestSettingList(t *testing.T) {
	assert := assert.New(t)
	repo := getTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SetSetting(ctx, model.Setting{Key: model.SettingSheetName, Value: "data"}))
	require.NoError(t, repo.SetSetting(ctx, model.Setting{Key: model.SettingDelayMin, Value: "20"}))

	settings, err := repo.ListSettings(ctx)
	require.NoError(t, err)

	require.Len(t, settings, 2)
	assert.Equal(model.SettingDelayMin, settings[0].Key)
	assert.Equal(model.SettingSheetName, settings[1].Key)
}

func TestSettingDelete(t *testing.T) {
	assert := assert.New(t)
	repo := getTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SetSetting(ctx, model.Setting{Key: model.SettingProxyURL, Value: "http://localhost:8118"}))
	require.NoError(t, repo.DeleteSetting(ctx, model.SettingProxyURL))

	_, err := repo.GetSetting(ctx, model.SettingProxyURL)
	assert.ErrorIs(err, model.ErrNotFound)

	err = repo.DeleteSetting(ctx, model.SettingProxyURL)
	assert.ErrorIs(err, model.ErrNotFound)
}
