package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValidateSpec(t *testing.T) {
	// Проверяем: стандартные 5-польные выражения принимаются.
	for _, spec := range []string{"* * * * *", "*/5 * * * *", "0 3 * * 1"} {
		if err := ValidateSpec(spec); err != nil {
			t.Fatalf("spec %q rejected: %v", spec, err)
		}
	}
	for _, spec := range []string{"", "bogus", "* * * *", "61 * * * *"} {
		if err := ValidateSpec(spec); err == nil {
			t.Fatalf("spec %q accepted", spec)
		}
	}
}

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	next, err := NextRun("0 12 * * *", from)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestNewRejectsBadSpec(t *testing.T) {
	if _, err := New("not a spec", discardLogger(), func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestRunPassSkipsOverlap(t *testing.T) {
	// Проверяем: тик во время работающего прохода пропускается.
	block := make(chan struct{})
	var mu sync.Mutex
	passes := 0

	s, err := New("* * * * *", discardLogger(), func(context.Context) error {
		mu.Lock()
		passes++
		mu.Unlock()
		<-block
		return nil
	})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		s.runPass(ctx)
		close(done)
	}()

	// Ждём входа первого прохода в pass.
	for {
		mu.Lock()
		n := passes
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	s.runPass(ctx) // перекрытие: должно вернуться сразу без второго прохода
	mu.Lock()
	n := passes
	mu.Unlock()
	if n != 1 {
		t.Fatalf("overlapping pass executed: %d", n)
	}

	close(block)
	<-done
}

func TestRunPassHonorsCancelledContext(t *testing.T) {
	called := false
	s, err := New("* * * * *", discardLogger(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.runPass(ctx)
	if called {
		t.Fatal("pass must not run after cancellation")
	}
}
