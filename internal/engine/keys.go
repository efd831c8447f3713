package engine

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/chromedp/chromedp/kb"
)

type keyDef struct {
	key     string
	code    string
	keyCode int64
	text    string
}

var namedKeys = map[string]keyDef{
	"enter":      {key: "Enter", code: "Enter", keyCode: 13, text: "\r"},
	"tab":        {key: "Tab", code: "Tab", keyCode: 9},
	"space":      {key: " ", code: "Space", keyCode: 32, text: " "},
	"backspace":  {key: "Backspace", code: "Backspace", keyCode: 8},
	"delete":     {key: "Delete", code: "Delete", keyCode: 46},
	"escape":     {key: "Escape", code: "Escape", keyCode: 27},
	"arrowup":    {key: "ArrowUp", code: "ArrowUp", keyCode: 38},
	"arrowdown":  {key: "ArrowDown", code: "ArrowDown", keyCode: 40},
	"arrowleft":  {key: "ArrowLeft", code: "ArrowLeft", keyCode: 37},
	"arrowright": {key: "ArrowRight", code: "ArrowRight", keyCode: 39},
	"home":       {key: "Home", code: "Home", keyCode: 36},
	"end":        {key: "End", code: "End", keyCode: 35},
	"pageup":     {key: "PageUp", code: "PageUp", keyCode: 33},
	"pagedown":   {key: "PageDown", code: "PageDown", keyCode: 34},
	"insert":     {key: "Insert", code: "Insert", keyCode: 45},
	"control":    {key: "Control", code: "ControlLeft", keyCode: 17},
	"shift":      {key: "Shift", code: "ShiftLeft", keyCode: 16},
	"alt":        {key: "Alt", code: "AltLeft", keyCode: 18},
	"meta":       {key: "Meta", code: "MetaLeft", keyCode: 91},
}

var keyAliases = map[string]string{
	"return":  "enter",
	"esc":     "escape",
	"del":     "delete",
	"up":      "arrowup",
	"down":    "arrowdown",
	"left":    "arrowleft",
	"right":   "arrowright",
	"ctrl":    "control",
	"cmd":     "meta",
	"command": "meta",
	"option":  "alt",
}

var modifierKeys = map[string]Modifier{
	"control": ModCtrl,
	"shift":   ModShift,
	"alt":     ModAlt,
	"meta":    ModMeta,
}

func init() {
	for i := 1; i <= 12; i++ {
		name := fmt.Sprintf("F%d", i)
		namedKeys[strings.ToLower(name)] = keyDef{key: name, code: name, keyCode: int64(111 + i)}
	}
}

func canonicalKey(name string) string {
	lower := strings.ToLower(name)
	if alias, ok := keyAliases[lower]; ok {
		return alias
	}
	return lower
}

// ModifierFor reports whether name is a modifier key and which bit it sets.
func ModifierFor(name string) (Modifier, bool) {
	m, ok := modifierKeys[canonicalKey(name)]
	return m, ok
}

// KnownKey reports whether name can be dispatched as a key event.
func KnownKey(name string) bool {
	_, err := lookupKey(name)
	return err == nil
}

func lookupKey(name string) (keyDef, error) {
	if def, ok := namedKeys[canonicalKey(name)]; ok {
		return def, nil
	}
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		if k, ok := kb.Keys[r]; ok {
			return keyDef{key: k.Key, code: k.Code, keyCode: k.Windows, text: k.Text}, nil
		}
		return keyDef{key: name, text: name}, nil
	}
	return keyDef{}, fmt.Errorf("%w: %q", ErrUnknownKey, name)
}

// editingCommand maps common shortcuts to the editor command Chrome would run,
// since synthesized key events do not trigger platform key bindings.
func editingCommand(def keyDef, mods Modifier) string {
	if mods&(ModCtrl|ModMeta) == 0 || len(def.key) != 1 {
		return ""
	}
	switch strings.ToLower(def.key) {
	case "a":
		return "selectAll"
	case "c":
		return "copy"
	case "v":
		return "paste"
	case "x":
		return "cut"
	case "z":
		if mods&ModShift != 0 {
			return "redo"
		}
		return "undo"
	}
	return ""
}
