package browser

import (
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/assert"
)

func TestJSCall_EncodesArguments(t *testing.T) {
	got := jsCall("f", "polybrain-assistant", `a"b`, 0.5, true)
	assert.Equal(t, `(f)("polybrain-assistant","a\"b",0.5,true)`, got)
	assert.Equal(t, "(f)()", jsCall("f"))
}

func TestCreateJS_UsesBinding(t *testing.T) {
	js := createJS("w", "/img/logo-nobackground.png", bindingName)
	assert.Contains(t, js, `("w","/img/logo-nobackground.png","__polybrainClick")`)
}

func TestFrameURL_IncludesFragment(t *testing.T) {
	f := &cdp.Frame{URL: "https://cad.onshape.com/documents/0123456789abcdef01234567", URLFragment: "#tab=1"}
	assert.Equal(t, "https://cad.onshape.com/documents/0123456789abcdef01234567#tab=1", frameURL(f))
}

func TestNewBridge_DefaultProfileDir(t *testing.T) {
	b := NewBridge(BridgeConfig{})
	assert.Contains(t, b.ProfileDir(), ".polybrain")
}
