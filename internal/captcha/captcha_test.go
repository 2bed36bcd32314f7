package captcha

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/vksync/internal/bus"
)

// answerNext waits for the next captcha.required event and hands its id to fn.
func answerNext(t *testing.T, ch <-chan bus.Event, fn func(id string)) {
	t.Helper()
	go func() {
		for evt := range ch {
			if req, ok := evt.Payload.(bus.CaptchaRequired); ok {
				fn(req.ID)
				return
			}
		}
	}()
}

func TestPromptSubmit(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("captcha.required", 10)
	defer unsub()

	p := NewPrompt(b, 0, nil)
	answerNext(t, ch, func(id string) {
		if err := p.Submit(id, "x7k2"); err != nil {
			t.Error(err)
		}
	})

	key, err := p.Solve(context.Background(), "https://api.vk.com/captcha.php?sid=1")
	if err != nil {
		t.Fatal(err)
	}
	if key != "x7k2" {
		t.Errorf("key = %q, want x7k2", key)
	}
	if len(p.Pending()) != 0 {
		t.Errorf("pending = %v, want none", p.Pending())
	}
}

func TestPromptCancel(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("captcha.required", 10)
	defer unsub()
	resolved, unsubResolved := b.Subscribe("captcha.resolved", 10)
	defer unsubResolved()

	p := NewPrompt(b, 0, nil)
	answerNext(t, ch, func(id string) { _ = p.Cancel(id) })

	if _, err := p.Solve(context.Background(), "img"); !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}

	evt := <-resolved
	if r, ok := evt.Payload.(bus.CaptchaResolved); !ok || !r.Cancelled {
		t.Errorf("resolved payload = %#v", evt.Payload)
	}
}

func TestPromptEmptyKeyCancels(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("captcha.required", 10)
	defer unsub()

	p := NewPrompt(b, 0, nil)
	answerNext(t, ch, func(id string) { _ = p.Submit(id, "") })

	if _, err := p.Solve(context.Background(), "img"); !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestPromptTimeout(t *testing.T) {
	p := NewPrompt(nil, 20*time.Millisecond, nil)
	if _, err := p.Solve(context.Background(), "img"); !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestPromptContextCancelled(t *testing.T) {
	p := NewPrompt(nil, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Solve(ctx, "img"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSubmitUnknown(t *testing.T) {
	p := NewPrompt(nil, 0, nil)
	if err := p.Submit("nope", "k"); !errors.Is(err, ErrUnknownChallenge) {
		t.Errorf("err = %v, want ErrUnknownChallenge", err)
	}
}

func TestSolverFunc(t *testing.T) {
	var s Solver = SolverFunc(func(ctx context.Context, img string) (string, error) { return img + "!", nil })
	key, err := s.Solve(context.Background(), "abc")
	if err != nil || key != "abc!" {
		t.Errorf("Solve = %q, %v", key, err)
	}
}
