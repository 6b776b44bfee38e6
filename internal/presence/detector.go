// Package presence decides whether the assistant widget belongs on the
// current page, based only on the page URL.
package presence

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// documentPath matches the document editing route, e.g.
// /documents/0123456789abcdef01234567/w/.../e/...
var documentPath = regexp.MustCompile(`^/documents/([0-9a-fA-F]{24})(?:/|$)`)

// DocumentID extracts the 24-character hexadecimal document id from a page
// URL. It returns "" when the URL is not a document editing page.
func DocumentID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	m := documentPath.FindStringSubmatch(u.Path)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// Change is the action the detector asks for after a URL notification.
type Change int

const (
	NoChange Change = iota
	Mount           // widget should appear
	Unmount         // widget should disappear and any session be discarded
	Switch          // still on a document page, but a different document
)

func (c Change) String() string {
	switch c {
	case Mount:
		return "mount"
	case Unmount:
		return "unmount"
	case Switch:
		return "switch"
	default:
		return "none"
	}
}

// Verdict is the result of observing one URL.
type Verdict struct {
	Change     Change
	DocumentID string // document of the new URL ("" when unmounting)
	Previous   string // document before the notification
}

// Detector tracks the mounted/unmounted verdict across navigation
// notifications. It is not safe for concurrent use; the controller loop owns it.
type Detector struct {
	hosts   map[string]bool
	logger  *slog.Logger
	lastURL string
	docID   string
	mounted bool
}

// NewDetector creates a detector. When hosts is non-empty only URLs on
// those hosts can yield a document id.
func NewDetector(hosts []string, logger *slog.Logger) *Detector {
	d := &Detector{logger: logger}
	if len(hosts) > 0 {
		d.hosts = make(map[string]bool, len(hosts))
		for _, h := range hosts {
			d.hosts[strings.ToLower(h)] = true
		}
	}
	return d
}

// Observe processes one navigation notification. Repeated notifications
// for the same URL, and any number of them, never produce a second mount.
func (d *Detector) Observe(rawURL string) Verdict {
	if rawURL == d.lastURL {
		return Verdict{Change: NoChange, DocumentID: d.docID, Previous: d.docID}
	}
	d.lastURL = rawURL

	next := d.documentID(rawURL)
	prev := d.docID
	d.docID = next

	v := Verdict{DocumentID: next, Previous: prev}
	switch {
	case !d.mounted && next != "":
		d.mounted = true
		v.Change = Mount
	case d.mounted && next == "":
		d.mounted = false
		v.Change = Unmount
	case d.mounted && next != prev:
		v.Change = Switch
	}
	if v.Change != NoChange {
		d.logger.Debug("presence changed", "change", v.Change.String(), "document", next, "previous", prev)
	}
	return v
}

// Mounted reports the current verdict.
func (d *Detector) Mounted() bool { return d.mounted }

// Forget drops the last verdict so the next notification, even for the
// same URL, is evaluated from the unmounted state.
func (d *Detector) Forget() {
	d.lastURL = ""
	d.docID = ""
	d.mounted = false
}

// Current returns the document id of the last observed URL.
func (d *Detector) Current() string { return d.docID }

func (d *Detector) documentID(rawURL string) string {
	if d.hosts != nil {
		u, err := url.Parse(rawURL)
		if err != nil || !d.hosts[strings.ToLower(u.Hostname())] {
			return ""
		}
	}
	return DocumentID(rawURL)
}
