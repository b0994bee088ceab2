package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/taskmaster-app/tmsync/common"
	"github.com/taskmaster-app/tmsync/crypto"
	"github.com/taskmaster-app/tmsync/log"
	"github.com/zalando/go-keyring"
)

// KeyringStore keeps the session in memory and persists it to the OS
// keyring, sealed with the session key when one is given.
type KeyringStore struct {
	*MemoryStore

	keyring keyring.Keyring
	key     []byte
	debug   bool
}

// NewKeyringStore loads any session already in the keyring. A nil k uses the
// OS keyring. Corrupt or undecryptable stored sessions load as absent.
func NewKeyringStore(k keyring.Keyring, sessionKey string, debug bool) *KeyringStore {
	if k == nil {
		k = osKeyring{}
	}

	ks := &KeyringStore{
		MemoryStore: NewMemoryStore(),
		keyring:     k,
		debug:       debug,
	}

	if sessionKey != "" {
		ks.key = []byte(sessionKey)
	}

	s, err := ks.read()
	if err != nil {
		log.DebugPrint(debug, fmt.Sprintf("NewKeyringStore | ignoring stored session: %v", err), common.MaxDebugChars)

		return ks
	}

	ks.load(s)

	return ks
}

func (ks *KeyringStore) SetSession(access, refresh string, user User) error {
	if access == "" {
		return ks.ClearSession()
	}

	werr := ks.write(Session{AccessToken: access, RefreshToken: refresh, User: user})

	if err := ks.MemoryStore.SetSession(access, refresh, user); err != nil {
		return err
	}

	return werr
}

func (ks *KeyringStore) ClearSession() error {
	derr := ks.keyring.Delete(KeyringService, KeyringApplicationName)
	if errors.Is(derr, keyring.ErrNotFound) {
		derr = nil
	}

	if err := ks.MemoryStore.ClearSession(); err != nil {
		return err
	}

	if derr != nil {
		return fmt.Errorf("ClearSession | %w", derr)
	}

	return nil
}

func (ks *KeyringStore) read() (Session, error) {
	raw, err := ks.keyring.Get(KeyringService, KeyringApplicationName)
	if err != nil {
		return Session{}, fmt.Errorf("read | %w", err)
	}

	if raw == "" {
		return Session{}, ErrNoSession
	}

	if !isUnencryptedSession(raw) {
		if ks.key == nil {
			return Session{}, fmt.Errorf("read | session is sealed and no key was provided")
		}

		if raw, err = crypto.Decrypt(ks.key, raw); err != nil {
			return Session{}, fmt.Errorf("read | %w", err)
		}
	}

	s, err := ParseSessionString(raw)
	if err != nil {
		return Session{}, fmt.Errorf("read | %w", err)
	}

	if !s.Valid() {
		return Session{}, ErrNoSession
	}

	return s, nil
}

func (ks *KeyringStore) write(s Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("write | %w", err)
	}

	rS := string(b)

	if ks.key != nil {
		if rS, err = crypto.Encrypt(ks.key, rS); err != nil {
			return fmt.Errorf("write | %w", err)
		}
	}

	if err = ks.keyring.Set(KeyringService, KeyringApplicationName, rS); err != nil {
		return fmt.Errorf("write | %w", err)
	}

	return nil
}

func ParseSessionString(ss string) (Session, error) {
	var s Session

	if err := json.Unmarshal([]byte(ss), &s); err != nil {
		return Session{}, err
	}

	return s, nil
}

func isUnencryptedSession(in string) bool {
	return strings.HasPrefix(in, "{")
}

type osKeyring struct{}

func (osKeyring) Set(service, user, password string) error {
	return keyring.Set(service, user, password)
}

func (osKeyring) Get(service, user string) (string, error) {
	return keyring.Get(service, user)
}

func (osKeyring) Delete(service, user string) error {
	return keyring.Delete(service, user)
}

func (osKeyring) DeleteAll(service string) error {
	return keyring.DeleteAll(service)
}
