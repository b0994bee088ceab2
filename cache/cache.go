package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/taskmaster-app/tmsync/common"
	"github.com/taskmaster-app/tmsync/items"
	"github.com/taskmaster-app/tmsync/log"
)

// Backend names accepted by Open.
const (
	BackendStorm  = "storm"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Store persists whole collection snapshots, one slot per user and
// collection. Load of an absent slot returns nil data and no error. Save
// replaces the slot.
type Store interface {
	Load(userID, collection string) ([]byte, error)
	Save(userID, collection string, data []byte) error
	Delete(userID, collection string) error
	Close() error
}

// Open returns the Store for backend at path.
func Open(backend, path string, debug bool) (Store, error) {
	switch backend {
	case "", BackendStorm:
		return OpenStorm(path, debug)
	case BackendSQLite:
		return OpenSQLite(path)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", backend)
	}
}

// SlotKey names the slot for a user's collection. An empty userID names the
// legacy unscoped slot.
func SlotKey(userID, collection string) string {
	if userID == "" {
		return LegacyKey(collection)
	}

	return collection + "_" + userID
}

// LegacyKey is the unscoped key earlier clients wrote each collection to.
func LegacyKey(collection string) string {
	switch collection {
	case common.CollectionTasks:
		return common.LegacyTasksKey
	case common.CollectionNotes:
		return common.LegacyNotesKey
	case common.CollectionProjects:
		return common.LegacyProjectsKey
	case common.CollectionSettings:
		return common.LegacySettingsKey
	default:
		return collection
	}
}

// LoadCollection returns the cached snapshot of a user's collection. When
// the user slot is absent the legacy slot is read and items owned by another
// user are discarded. When it exists, unowned local only items of the legacy
// slot are added to it. Malformed data loads as an empty collection.
func LoadCollection[T items.Record[T]](s Store, userID items.ID, collection string, debug bool) ([]T, error) {
	raw, err := s.Load(userID.String(), collection)
	if err != nil {
		return nil, fmt.Errorf("LoadCollection | %w", err)
	}

	legacy := raw == nil && userID != ""
	if legacy {
		if raw, err = s.Load("", collection); err != nil {
			return nil, fmt.Errorf("LoadCollection | %w", err)
		}
	}

	if raw == nil {
		return nil, nil
	}

	out, skipped, err := items.DecodeAll[T](raw)
	if err != nil {
		log.DebugPrint(debug, fmt.Sprintf("LoadCollection | %s: ignoring malformed cache: %v", collection, err), common.MaxDebugChars)

		return nil, nil
	}

	if skipped > 0 {
		log.DebugPrint(debug, fmt.Sprintf("LoadCollection | %s: skipped %d malformed items", collection, skipped), common.MaxDebugChars)
	}

	if legacy {
		kept := out[:0]

		for _, v := range out {
			if owner := v.Common().OwnerID; owner == "" || owner == userID {
				kept = append(kept, v)
			}
		}

		out = kept
	} else if userID != "" {
		out = append(out, unclaimed(s, collection, out, debug)...)
	}

	return out, nil
}

// unclaimed returns the local only items of the legacy slot that have no
// owner and are not in have. They were created while signed out and belong
// to whoever signs in next.
func unclaimed[T items.Record[T]](s Store, collection string, have []T, debug bool) []T {
	raw, err := s.Load("", collection)
	if err != nil || raw == nil {
		return nil
	}

	legacy, _, err := items.DecodeAll[T](raw)
	if err != nil {
		log.DebugPrint(debug, fmt.Sprintf("LoadCollection | %s: ignoring malformed legacy cache: %v", collection, err), common.MaxDebugChars)

		return nil
	}

	var out []T

	for _, v := range legacy {
		c := v.Common()
		if c.OwnerID == "" && c.IsLocalOnly() && items.FindByID(have, c.ID) < 0 {
			out = append(out, v)
		}
	}

	return out
}

// SaveCollection writes the snapshot to the user slot and to the legacy
// slot.
func SaveCollection[T items.Record[T]](s Store, userID items.ID, collection string, in []T) error {
	if in == nil {
		in = []T{}
	}

	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("SaveCollection | %w", err)
	}

	var errs []error

	if userID != "" {
		if err = s.Save(userID.String(), collection, b); err != nil {
			errs = append(errs, err)
		}
	}

	if err = s.Save("", collection, b); err != nil {
		errs = append(errs, err)
	}

	if err = errors.Join(errs...); err != nil {
		return fmt.Errorf("SaveCollection | %w", err)
	}

	return nil
}

// GenCacheDBPath returns a cache file path for key under dir, defaulting dir
// to ~/.<appName>. The directory is created if missing.
func GenCacheDBPath(key, dir, appName string) (string, error) {
	var err error

	if appName == "" {
		return "", fmt.Errorf("appName is a required")
	}

	// if cache directory not defined then create dot path in home directory
	if dir == "" {
		var homeDir string

		homeDir, err = homedir.Dir()
		if err != nil {
			return "", err
		}

		dir = filepath.Join(homeDir, "."+appName)
	}

	err = os.MkdirAll(dir, 0o700)
	if err != nil {
		return "", fmt.Errorf("failed to make cache directory: %s", dir)
	}

	h := sha256.New()

	h.Write([]byte(key + appName))
	bs := h.Sum(nil)
	hexedDigest := hex.EncodeToString(bs)[:8]

	return filepath.Join(dir, appName+"-"+hexedDigest+".db"), nil
}
