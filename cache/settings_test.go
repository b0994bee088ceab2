package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/taskmaster-app/tmsync/common"
	"github.com/taskmaster-app/tmsync/items"
)

func TestLoadSettingsDefaults(t *testing.T) {
	got, err := LoadSettings(NewMemoryStore(), "1")
	require.NoError(t, err)
	require.Equal(t, DefaultSettings(), got)
	require.Equal(t, DefaultAccentColor, got.AccentColor)
	require.True(t, got.EmailNotifications.TaskReminders)
}

func TestLoadSettingsLegacyKeys(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.Save("", common.CollectionSettings, []byte(`{
		"compactMode": true,
		"darkMode": false,
		"accentColor": "#000000",
		"emailNotifications": {"weeklyDigest": true}
	}`)))
	require.NoError(t, s.Save("", common.LegacyDarkMode, []byte("true")))
	require.NoError(t, s.Save("", common.LegacyAccentColor, []byte("#10B981")))

	got, err := LoadSettings(s, "1")
	require.NoError(t, err)
	require.True(t, got.CompactMode)
	require.True(t, got.DarkMode)
	require.Equal(t, "#10B981", got.AccentColor)
	require.True(t, got.EmailNotifications.WeeklyDigest)
	require.True(t, got.EmailNotifications.TaskReminders)
	require.Equal(t, items.PriorityMedium, got.DefaultTaskPriority)
}

func TestSaveSettingsPerUser(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			mine := DefaultSettings()
			mine.DarkMode = true
			mine.StartWeekOn = "sunday"

			require.NoError(t, SaveSettings(s, "1", mine))

			got, err := LoadSettings(s, "1")
			require.NoError(t, err)
			require.Equal(t, mine, got)

			// the legacy keys follow the last save
			dark, err := s.Load("", common.LegacyDarkMode)
			require.NoError(t, err)
			require.Equal(t, "true", string(dark))

			theirs := DefaultSettings()
			theirs.AccentColor = "#F59E0B"
			require.NoError(t, SaveSettings(s, "2", theirs))

			got, err = LoadSettings(s, "1")
			require.NoError(t, err)
			require.Equal(t, mine, got)

			got, err = LoadSettings(s, "")
			require.NoError(t, err)
			require.Equal(t, theirs, got)
		})
	}
}

func TestLoadSettingsMalformed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Save("1", common.CollectionSettings, []byte(`{not json`)))

	got, err := LoadSettings(s, "1")
	require.NoError(t, err)
	require.Equal(t, DefaultSettings(), got)
}
