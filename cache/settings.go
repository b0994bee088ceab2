package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/taskmaster-app/tmsync/common"
	"github.com/taskmaster-app/tmsync/items"
)

const DefaultAccentColor = "#4F46E5"

type EmailNotifications struct {
	TaskReminders bool `json:"taskReminders"`
	DueDateAlerts bool `json:"dueDateAlerts"`
	WeeklyDigest  bool `json:"weeklyDigest"`
}

// Settings are a user's preferences. They are kept on the device only.
type Settings struct {
	DarkMode                     bool               `json:"darkMode"`
	AccentColor                  string             `json:"accentColor"`
	CompactMode                  bool               `json:"compactMode"`
	EmailNotifications           EmailNotifications `json:"emailNotifications"`
	DefaultTaskView              string             `json:"defaultTaskView"`
	DefaultTaskPriority          items.Priority     `json:"defaultTaskPriority"`
	DefaultTaskDueTime           string             `json:"defaultTaskDueTime"`
	StartWeekOn                  string             `json:"startWeekOn"`
	ShowCompletedTasks           bool               `json:"showCompletedTasks"`
	ShareTaskStatistics          bool               `json:"shareTaskStatistics"`
	AllowAnonymousDataCollection bool               `json:"allowAnonymousDataCollection"`
}

func DefaultSettings() Settings {
	return Settings{
		AccentColor: DefaultAccentColor,
		EmailNotifications: EmailNotifications{
			TaskReminders: true,
			DueDateAlerts: true,
		},
		DefaultTaskView:              "list",
		DefaultTaskPriority:          items.PriorityMedium,
		DefaultTaskDueTime:           "17:00",
		StartWeekOn:                  "monday",
		ShowCompletedTasks:           true,
		AllowAnonymousDataCollection: true,
	}
}

// LoadSettings returns the user's settings over the defaults. Without a
// user slot the legacy keys are read: the settings object, then darkMode
// and accentColor, which earlier clients stored on their own and which take
// precedence. Malformed data is ignored.
func LoadSettings(s Store, userID items.ID) (Settings, error) {
	out := DefaultSettings()

	if userID != "" {
		raw, err := s.Load(userID.String(), common.CollectionSettings)
		if err != nil {
			return out, fmt.Errorf("LoadSettings | %w", err)
		}

		if raw != nil {
			mergeSettings(&out, raw)
			return out, nil
		}
	}

	raw, err := s.Load("", common.CollectionSettings)
	if err != nil {
		return out, fmt.Errorf("LoadSettings | %w", err)
	}

	mergeSettings(&out, raw)

	dark, err := s.Load("", common.LegacyDarkMode)
	if err != nil {
		return out, fmt.Errorf("LoadSettings | %w", err)
	}

	out.DarkMode = string(bytes.TrimSpace(dark)) == "true"

	accent, err := s.Load("", common.LegacyAccentColor)
	if err != nil {
		return out, fmt.Errorf("LoadSettings | %w", err)
	}

	if a := string(bytes.TrimSpace(accent)); a != "" {
		out.AccentColor = a
	}

	return out, nil
}

// SaveSettings writes in to the user slot and to the legacy keys.
func SaveSettings(s Store, userID items.ID, in Settings) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("SaveSettings | %w", err)
	}

	var errs []error

	if userID != "" {
		errs = append(errs, s.Save(userID.String(), common.CollectionSettings, b))
	}

	errs = append(errs,
		s.Save("", common.CollectionSettings, b),
		s.Save("", common.LegacyDarkMode, []byte(strconv.FormatBool(in.DarkMode))),
		s.Save("", common.LegacyAccentColor, []byte(in.AccentColor)),
	)

	if err = errors.Join(errs...); err != nil {
		return fmt.Errorf("SaveSettings | %w", err)
	}

	return nil
}

// mergeSettings overlays the fields present in raw.
func mergeSettings(dst *Settings, raw []byte) {
	if len(raw) == 0 {
		return
	}

	next := *dst
	if err := json.Unmarshal(raw, &next); err != nil {
		return
	}

	*dst = next
}
