package shortcut

import "strings"

// Modifier is a bit set of held modifier keys.
type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModAlt
	ModShift
	ModMeta

	// ModPrimary is the logical accelerator modifier: the command key on
	// platforms where that is canonical, ctrl everywhere else. It is
	// resolved to a physical modifier at dispatch time, exclusively: the
	// other physical key held instead rejects the match.
	ModPrimary
)

// specialKeys maps raw key names to their canonical form.
var specialKeys = map[string]string{
	" ":          "space",
	"spacebar":   "space",
	"arrowup":    "up",
	"arrowdown":  "down",
	"arrowleft":  "left",
	"arrowright": "right",
	"esc":        "escape",
	"return":     "enter",
}

// canonicalKey lower-cases a key name and maps special keys (space,
// arrows) to canonical names.
func canonicalKey(key string) string {
	k := strings.ToLower(key)
	if mapped, ok := specialKeys[k]; ok {
		return mapped
	}
	return k
}

// comboString renders a modifier set plus base key as a canonical
// combination string, modifiers in a fixed order so registration and
// event normalization always agree.
func comboString(mods Modifier, key string) string {
	var b strings.Builder
	if mods&ModCtrl != 0 {
		b.WriteString("ctrl+")
	}
	if mods&ModAlt != 0 {
		b.WriteString("alt+")
	}
	if mods&ModShift != 0 {
		b.WriteString("shift+")
	}
	if mods&ModMeta != 0 {
		b.WriteString("meta+")
	}
	b.WriteString(canonicalKey(key))
	return b.String()
}

// resolvePrimary rewrites ModPrimary into the platform's physical
// accelerator modifier.
func resolvePrimary(mods Modifier, metaIsPrimary bool) Modifier {
	if mods&ModPrimary == 0 {
		return mods
	}
	mods &^= ModPrimary
	if metaIsPrimary {
		return mods | ModMeta
	}
	return mods | ModCtrl
}
