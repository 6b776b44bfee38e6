package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// bindingName is the page global the widget calls on click.
const bindingName = "__polybrainClick"

const notifyBuffer = 32

// Tab is one CAD tool tab. It is the navigation notifier, the click source
// and the widget surface of the controller.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	urls   chan string
	clicks chan struct{}

	mu        sync.Mutex
	mainFrame cdp.FrameID
	widget    *widgetState // last rendered widget, replayed after a reload
}

type widgetState struct {
	className string
	icon      string
	scale     float64
	disabled  bool
}

// Open starts Chrome, installs the click binding and loads startURL.
func (b *Bridge) Open(ctx context.Context, startURL string) (*Tab, error) {
	taskCtx, cancel := b.NewContext(ctx)
	t := &Tab{
		ctx:    taskCtx,
		cancel: cancel,
		logger: b.logger,
		urls:   make(chan string, notifyBuffer),
		clicks: make(chan struct{}, notifyBuffer),
	}
	chromedp.ListenTarget(taskCtx, t.onEvent)

	if err := chromedp.Run(taskCtx, runtime.AddBinding(bindingName)); err != nil {
		cancel()
		return nil, fmt.Errorf("install click binding: %w", err)
	}
	if startURL != "" {
		if err := chromedp.Run(taskCtx, chromedp.Navigate(startURL)); err != nil {
			cancel()
			return nil, fmt.Errorf("navigate to %s: %w", startURL, err)
		}
	}
	b.logger.Info("tab opened", "url", startURL, "headless", b.headless)
	return t, nil
}

// URLs delivers the tab URL after every main-frame navigation, including
// history and fragment changes that do not reload the page.
func (t *Tab) URLs() <-chan string { return t.urls }

// Clicks delivers one value per click on an enabled widget.
func (t *Tab) Clicks() <-chan struct{} { return t.clicks }

// Done is closed when the tab or the browser goes away.
func (t *Tab) Done() <-chan struct{} { return t.ctx.Done() }

// Close shuts the browser.
func (t *Tab) Close() { t.cancel() }

// Navigate loads url in the tab.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	return t.run(ctx, chromedp.Navigate(url))
}

// onEvent runs on the chromedp event goroutine and must not block or call
// chromedp.Run directly.
func (t *Tab) onEvent(ev any) {
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		t.mu.Lock()
		t.mainFrame = e.Frame.ID
		t.mu.Unlock()
		t.notify(frameURL(e.Frame))
	case *page.EventNavigatedWithinDocument:
		t.mu.Lock()
		main := t.mainFrame
		t.mu.Unlock()
		if main != "" && e.FrameID != main {
			return
		}
		t.notify(e.URL)
	case *page.EventDomContentEventFired:
		go t.restore()
	case *runtime.EventBindingCalled:
		if e.Name != bindingName {
			return
		}
		select {
		case t.clicks <- struct{}{}:
		default:
			t.logger.Debug("click dropped, controller busy")
		}
	}
}

func (t *Tab) notify(url string) {
	select {
	case t.urls <- url:
	default:
		t.logger.Warn("navigation notification dropped", "url", url)
	}
}

// frameURL is the full URL of a frame, fragment included.
func frameURL(f *cdp.Frame) string {
	return f.URL + f.URLFragment
}

// restore re-creates the widget after a full page load wiped the DOM.
func (t *Tab) restore() {
	t.mu.Lock()
	w := t.widget
	t.mu.Unlock()
	if w == nil {
		return
	}
	if err := t.run(context.Background(), evaluate(createJS(w.className, w.icon, bindingName))); err != nil {
		t.logger.Debug("restore widget failed", "err", err)
		return
	}
	_ = t.run(context.Background(),
		evaluate(jsCall(setIconFn, w.className, w.icon, w.scale)),
		evaluate(jsCall(setDisabledFn, w.className, w.disabled)),
	)
}

// run executes actions on the tab, abandoning them when ctx is done.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (t *Tab) update(fn func(w *widgetState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.widget != nil {
		fn(t.widget)
	}
}

func (t *Tab) className() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.widget == nil {
		return ""
	}
	return t.widget.className
}

// Create appends the widget button with its icon to the page body.
func (t *Tab) Create(ctx context.Context, className, iconURL string) error {
	if err := t.run(ctx, evaluate(createJS(className, iconURL, bindingName))); err != nil {
		return fmt.Errorf("create widget element: %w", err)
	}
	t.mu.Lock()
	t.widget = &widgetState{className: className, icon: iconURL, scale: 1}
	t.mu.Unlock()
	return nil
}

// Remove deletes the widget element and its listener.
func (t *Tab) Remove(ctx context.Context) error {
	cls := t.className()
	t.mu.Lock()
	t.widget = nil
	t.mu.Unlock()
	if cls == "" {
		return nil
	}
	return t.run(ctx, evaluate(jsCall(removeFn, cls)))
}

func (t *Tab) SetDisabled(ctx context.Context, disabled bool) error {
	t.update(func(w *widgetState) { w.disabled = disabled })
	return t.run(ctx, evaluate(jsCall(setDisabledFn, t.className(), disabled)))
}

func (t *Tab) SetScale(ctx context.Context, scale float64) error {
	t.update(func(w *widgetState) { w.scale = scale })
	return t.run(ctx, evaluate(jsCall(setScaleFn, t.className(), scale)))
}

func (t *Tab) SetIcon(ctx context.Context, iconURL string, scale float64) error {
	t.update(func(w *widgetState) { w.icon, w.scale = iconURL, scale })
	return t.run(ctx, evaluate(jsCall(setIconFn, t.className(), iconURL, scale)))
}

func evaluate(expr string) chromedp.Action {
	var ignored any
	return chromedp.Evaluate(expr, &ignored)
}

// jsCall renders fn(args...) with JSON-encoded arguments.
func jsCall(fn string, args ...any) string {
	encoded := make([]byte, 0, 64)
	for i, a := range args {
		if i > 0 {
			encoded = append(encoded, ',')
		}
		b, err := json.Marshal(a)
		if err != nil {
			b = []byte("null")
		}
		encoded = append(encoded, b...)
	}
	return "(" + fn + ")(" + string(encoded) + ")"
}

func createJS(className, iconURL, binding string) string {
	return jsCall(createFn, className, iconURL, binding)
}

const createFn = `function (cls, icon, binding) {
	if (!document.body) { throw new Error("document body not ready"); }
	document.querySelectorAll("." + cls).forEach(function (el) { el.remove(); });
	var btn = document.createElement("button");
	btn.className = cls;
	btn.type = "button";
	btn.style.cssText = "position:fixed;right:24px;bottom:24px;z-index:2147483647;width:56px;height:56px;border:none;border-radius:50%;background:#fff;box-shadow:0 2px 8px rgba(0,0,0,.25);display:flex;align-items:center;justify-content:center;cursor:pointer;padding:0;";
	var img = document.createElement("img");
	img.src = icon;
	img.style.cssText = "width:40px;height:40px;transition:transform .3s ease;transform:scale(1);";
	btn.appendChild(img);
	btn.addEventListener("click", function () {
		if (!btn.disabled && typeof window[binding] === "function") { window[binding]("click"); }
	});
	document.body.appendChild(btn);
	return true;
}`

const removeFn = `function (cls) {
	document.querySelectorAll("." + cls).forEach(function (el) { el.remove(); });
	return true;
}`

const setDisabledFn = `function (cls, disabled) {
	var btn = document.querySelector("." + cls);
	if (!btn) { return false; }
	btn.disabled = disabled;
	btn.style.cursor = disabled ? "default" : "pointer";
	return true;
}`

const setScaleFn = `function (cls, scale) {
	var img = document.querySelector("." + cls + " img");
	if (!img) { return false; }
	img.style.transform = "scale(" + scale + ")";
	return true;
}`

const setIconFn = `function (cls, icon, scale) {
	var img = document.querySelector("." + cls + " img");
	if (!img) { return false; }
	img.src = icon;
	img.style.transform = "scale(" + scale + ")";
	return true;
}`
