package browser

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/tabcast/backend/internal/engine"
)

// DefaultKey is pressed when a key action names none.
const DefaultKey = "Enter"

// KeyCombo is a parsed "Mod+Mod+key" string.
type KeyCombo struct {
	// Modifiers are pressed in order and released in reverse.
	Modifiers []string
	Key       string
}

// Mask is the combined modifier bitmask.
func (c KeyCombo) Mask() engine.Modifier {
	var m engine.Modifier
	for _, name := range c.Modifiers {
		bit, _ := engine.ModifierFor(name)
		m |= bit
	}
	return m
}

// ParseKeyCombo splits raw on "+". Every part before the last must be a
// modifier; the last part is the key. A literal "+" key is written as "+" or
// "Control++".
func ParseKeyCombo(raw string) (KeyCombo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return KeyCombo{Key: DefaultKey}, nil
	}
	if raw == "+" {
		return KeyCombo{Key: "+"}, nil
	}

	var key string
	head := raw
	if strings.HasSuffix(raw, "++") {
		key, head = "+", strings.TrimSuffix(raw, "++")
	} else {
		idx := strings.LastIndex(raw, "+")
		if idx < 0 {
			return parsedKey(nil, raw)
		}
		key, head = raw[idx+1:], raw[:idx]
	}

	var mods []string
	for _, part := range strings.Split(head, "+") {
		part = strings.TrimSpace(part)
		if _, ok := engine.ModifierFor(part); !ok {
			return KeyCombo{}, fmt.Errorf("%w: %q is not a modifier in %q", ErrInvalidRequest, part, raw)
		}
		mods = append(mods, part)
	}
	return parsedKey(mods, strings.TrimSpace(key))
}

func parsedKey(mods []string, key string) (KeyCombo, error) {
	if key == "" {
		return KeyCombo{}, fmt.Errorf("%w: empty key", ErrInvalidRequest)
	}
	if !engine.KnownKey(key) {
		return KeyCombo{}, fmt.Errorf("%w: unknown key %q", ErrInvalidRequest, key)
	}
	return KeyCombo{Modifiers: mods, Key: key}, nil
}
