// internal/desktop/chromium/keymap.go
package chromium

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/chromedp/cdproto/input"
)

// keyIdent is the protocol identity of one key on the synthetic keyboard.
type keyIdent struct {
	// Key and Code follow the DOM KeyboardEvent values.
	Key  string
	Code string
	// KeyCode is the legacy virtual key code many pages still read.
	KeyCode int64
	// Text is the character the key inserts when it prints.
	Text string
	// Modifier is non-zero for modifier keys and carries their bit.
	Modifier input.Modifier
}

// namedKeys maps the key names models emit to protocol identities. Names
// are matched case-insensitively and include the common aliases seen from
// different prompt conventions (xdotool style and plain English).
var namedKeys = map[string]keyIdent{
	"ctrl":    {Key: "Control", Code: "ControlLeft", KeyCode: 17, Modifier: input.ModifierCtrl},
	"control": {Key: "Control", Code: "ControlLeft", KeyCode: 17, Modifier: input.ModifierCtrl},
	"shift":   {Key: "Shift", Code: "ShiftLeft", KeyCode: 16, Modifier: input.ModifierShift},
	"alt":     {Key: "Alt", Code: "AltLeft", KeyCode: 18, Modifier: input.ModifierAlt},
	"opt":     {Key: "Alt", Code: "AltLeft", KeyCode: 18, Modifier: input.ModifierAlt},
	"option":  {Key: "Alt", Code: "AltLeft", KeyCode: 18, Modifier: input.ModifierAlt},
	"meta":    {Key: "Meta", Code: "MetaLeft", KeyCode: 91, Modifier: input.ModifierMeta},
	"cmd":     {Key: "Meta", Code: "MetaLeft", KeyCode: 91, Modifier: input.ModifierMeta},
	"command": {Key: "Meta", Code: "MetaLeft", KeyCode: 91, Modifier: input.ModifierMeta},
	"super":   {Key: "Meta", Code: "MetaLeft", KeyCode: 91, Modifier: input.ModifierMeta},
	"win":     {Key: "Meta", Code: "MetaLeft", KeyCode: 91, Modifier: input.ModifierMeta},

	"return": {Key: "Enter", Code: "Enter", KeyCode: 13, Text: "\r"},
	"enter":  {Key: "Enter", Code: "Enter", KeyCode: 13, Text: "\r"},
	"tab":    {Key: "Tab", Code: "Tab", KeyCode: 9, Text: "\t"},
	"space":  {Key: " ", Code: "Space", KeyCode: 32, Text: " "},

	"escape":     {Key: "Escape", Code: "Escape", KeyCode: 27},
	"esc":        {Key: "Escape", Code: "Escape", KeyCode: 27},
	"backspace":  {Key: "Backspace", Code: "Backspace", KeyCode: 8},
	"back_space": {Key: "Backspace", Code: "Backspace", KeyCode: 8},
	"delete":     {Key: "Delete", Code: "Delete", KeyCode: 46},
	"del":        {Key: "Delete", Code: "Delete", KeyCode: 46},
	"insert":     {Key: "Insert", Code: "Insert", KeyCode: 45},

	"up":    {Key: "ArrowUp", Code: "ArrowUp", KeyCode: 38},
	"down":  {Key: "ArrowDown", Code: "ArrowDown", KeyCode: 40},
	"left":  {Key: "ArrowLeft", Code: "ArrowLeft", KeyCode: 37},
	"right": {Key: "ArrowRight", Code: "ArrowRight", KeyCode: 39},

	"home":      {Key: "Home", Code: "Home", KeyCode: 36},
	"end":       {Key: "End", Code: "End", KeyCode: 35},
	"pageup":    {Key: "PageUp", Code: "PageUp", KeyCode: 33},
	"page_up":   {Key: "PageUp", Code: "PageUp", KeyCode: 33},
	"pagedown":  {Key: "PageDown", Code: "PageDown", KeyCode: 34},
	"page_down": {Key: "PageDown", Code: "PageDown", KeyCode: 34},
}

func init() {
	// F1 maps to legacy key code 112 and the rest follow in order.
	for i := 1; i <= 12; i++ {
		name := fmt.Sprintf("F%d", i)
		namedKeys[strings.ToLower(name)] = keyIdent{Key: name, Code: name, KeyCode: int64(111 + i)}
	}
}

// lookupKey resolves a model-supplied key name. Single printable characters
// fall through to a character identity so chords like ctrl+p work without a
// table entry per letter.
func lookupKey(name string) (keyIdent, bool) {
	trimmed := strings.TrimSpace(name)
	if ident, ok := namedKeys[strings.ToLower(trimmed)]; ok {
		return ident, true
	}
	runes := []rune(trimmed)
	if len(runes) == 1 && unicode.IsPrint(runes[0]) {
		return charIdent(runes[0]), true
	}
	return keyIdent{}, false
}

func charIdent(r rune) keyIdent {
	ident := keyIdent{Key: string(r), Text: string(r)}
	switch {
	case r >= 'a' && r <= 'z':
		ident.Code = "Key" + strings.ToUpper(string(r))
		ident.KeyCode = int64(unicode.ToUpper(r))
	case r >= 'A' && r <= 'Z':
		ident.Code = "Key" + string(r)
		ident.KeyCode = int64(r)
	case r >= '0' && r <= '9':
		ident.Code = "Digit" + string(r)
		ident.KeyCode = int64(r)
	}
	return ident
}
