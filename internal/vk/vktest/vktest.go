// Package vktest provides scripted vk.Invoker and vk.Fetcher fakes.
package vktest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/matheus3301/vksync/internal/vk"
)

// Reply is one scripted result of a call.
type Reply struct {
	Raw string
	Err error
}

// OK replies with raw as the response value.
func OK(raw string) Reply { return Reply{Raw: raw} }

// Fail replies with err.
func Fail(err error) Reply { return Reply{Err: err} }

// APIError replies with a structured API error.
func APIError(code int, msg string) Reply {
	return Reply{Err: &vk.Error{Code: code, Message: msg}}
}

// Captcha replies with a captcha-needed error.
func Captcha(sid, img string) Reply {
	return Reply{Err: &vk.Error{Code: vk.ErrCodeCaptchaNeeded, Message: "Captcha needed", CaptchaSID: sid, CaptchaImg: img}}
}

// Call records one invocation.
type Call struct {
	Method string
	Params url.Values
}

// Invoker replays scripted replies per method. When a method's queue is down
// to its last reply, that reply is repeated. Calls to unscripted methods fail.
type Invoker struct {
	mu      sync.Mutex
	replies map[string][]Reply
	calls   []Call
	hook    func(Call)
}

// NewInvoker creates an empty Invoker.
func NewInvoker() *Invoker {
	return &Invoker{replies: make(map[string][]Reply)}
}

// On appends replies for method.
func (f *Invoker) On(method string, replies ...Reply) *Invoker {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[method] = append(f.replies[method], replies...)
	return f
}

// OnCall registers fn to run, outside the lock, before each reply.
func (f *Invoker) OnCall(fn func(Call)) *Invoker {
	f.mu.Lock()
	f.hook = fn
	f.mu.Unlock()
	return f
}

// Call implements vk.Invoker.
func (f *Invoker) Call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	c := Call{Method: method, Params: cloneValues(params)}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	queue := f.replies[method]
	var r Reply
	scripted := len(queue) > 0
	if scripted {
		r = queue[0]
		if len(queue) > 1 {
			f.replies[method] = queue[1:]
		}
	}
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !scripted {
		return nil, fmt.Errorf("vktest: unexpected call to %s", method)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return json.RawMessage(r.Raw), nil
}

// Calls returns the recorded invocations of method, or of every method when
// method is empty.
func (f *Invoker) Calls(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Fetcher serves scripted bodies by URL. Unknown URLs fail.
type Fetcher struct {
	mu      sync.Mutex
	bodies  map[string][]byte
	fetched []string
}

// NewFetcher creates a Fetcher serving bodies.
func NewFetcher(bodies map[string][]byte) *Fetcher {
	if bodies == nil {
		bodies = make(map[string][]byte)
	}
	return &Fetcher{bodies: bodies}
}

// Fetch implements vk.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, rawURL)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := f.bodies[rawURL]
	if !ok {
		return nil, fmt.Errorf("vktest: 404 %s", rawURL)
	}
	return data, nil
}

// Fetched returns the requested URLs in order.
func (f *Fetcher) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}
