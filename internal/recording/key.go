package recording

import (
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
	"github.com/gluk-w/claworc/shellrelay/internal/database"
)

const keySetting = "recording_key"

// LoadOrCreateKey returns the recording key kept in the settings table,
// generating and storing one on first use.
func LoadOrCreateKey() (string, error) {
	keyStr, err := database.GetSetting(keySetting)
	if err == nil {
		if _, err := fernet.DecodeKey(keyStr); err != nil {
			return "", fmt.Errorf("decode stored recording key: %w", err)
		}
		return keyStr, nil
	}
	if !errors.Is(err, database.ErrSettingNotFound) {
		return "", fmt.Errorf("read recording key: %w", err)
	}

	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", fmt.Errorf("generate recording key: %w", err)
	}
	keyStr = k.Encode()
	if err := database.SetSetting(keySetting, keyStr); err != nil {
		return "", fmt.Errorf("save recording key: %w", err)
	}
	return keyStr, nil
}
