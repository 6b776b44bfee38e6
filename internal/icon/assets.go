package icon

import (
	"strings"

	"polybrain/internal/domain"
)

// Assets maps each icon state to its image URL.
type Assets map[domain.IconState]string

// DefaultAssets returns the stock icon set resolved against base.
func DefaultAssets(base string) Assets {
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return Assets{
		domain.IconIdle:      base + "logo-nobackground.png",
		domain.IconListening: base + "mic-fill.svg",
		domain.IconSpeaking:  base + "volume-up-fill.svg",
		domain.IconLoading:   base + "loading.svg",
	}
}

// URL returns the image for s, falling back to the idle image.
func (a Assets) URL(s domain.IconState) string {
	if u, ok := a[s]; ok {
		return u
	}
	return a[domain.IconIdle]
}
