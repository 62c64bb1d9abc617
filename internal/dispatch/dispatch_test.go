package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"eamscan/internal/store"
)

type recorder struct {
	mu    sync.Mutex
	byChn map[string][]string
	gate  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{byChn: make(map[string][]string)}
}

func (r *recorder) Evaluate(_ context.Context, frag store.Fragment) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byChn[frag.ChannelID] = append(r.byChn[frag.ChannelID], frag.ID)
	return nil
}

func (r *recorder) order(channel string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.byChn[channel]...)
}

func TestSubmitBeforeStart(t *testing.T) {
	d := New(newRecorder(), 4, time.Second, zerolog.Nop())
	if d.Submit(store.Fragment{ID: "f1", ChannelID: "c1"}) {
		t.Fatal("submit before start should be refused")
	}
	if d.Healthy() {
		t.Fatal("unstarted dispatcher reports healthy")
	}
}

func TestPerChannelOrdering(t *testing.T) {
	rec := newRecorder()
	d := New(rec, 64, time.Second, zerolog.Nop())
	d.Start(context.Background())

	const n = 20
	for i := 0; i < n; i++ {
		for _, ch := range []string{"c1", "c2"} {
			if !d.Submit(store.Fragment{ID: fmt.Sprintf("%s-f%02d", ch, i), ChannelID: ch}) {
				t.Fatalf("submit %s %d refused", ch, i)
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.Stop(ctx)

	for _, ch := range []string{"c1", "c2"} {
		got := rec.order(ch)
		if len(got) != n {
			t.Fatalf("channel %s processed %d, want %d", ch, len(got), n)
		}
		for i, id := range got {
			want := fmt.Sprintf("%s-f%02d", ch, i)
			if id != want {
				t.Fatalf("channel %s position %d = %s, want %s (arrival order)", ch, i, id, want)
			}
		}
	}

	stats := d.Stats()
	if stats.Channels != 2 || stats.Processed != 2*n || stats.Failed != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestMailboxFullDrops(t *testing.T) {
	rec := newRecorder()
	rec.gate = make(chan struct{})
	d := New(rec, 1, time.Second, zerolog.Nop())
	d.Start(context.Background())

	// First fragment occupies the worker, second fills the mailbox.
	d.Submit(store.Fragment{ID: "f1", ChannelID: "c1"})
	d.Submit(store.Fragment{ID: "f2", ChannelID: "c1"})

	deadline := time.After(2 * time.Second)
	for {
		if !d.Submit(store.Fragment{ID: "f3", ChannelID: "c1"}) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("bounded mailbox never refused a submit")
		default:
		}
	}
	if d.Stats().Dropped == 0 {
		t.Fatal("drop counter not incremented")
	}

	close(rec.gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.Stop(ctx)
}

func TestSubmitDuringStop(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := New(newRecorder(), 2, time.Second, zerolog.Nop())
		d.Start(context.Background())
		d.Submit(store.Fragment{ID: "seed", ChannelID: "c1"})

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				// Must refuse cleanly once stopped, never panic on a
				// closed mailbox.
				d.Submit(store.Fragment{ID: fmt.Sprintf("f%d", j), ChannelID: "c1"})
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		d.Stop(ctx)
		cancel()
		wg.Wait()
	}
}

type panicky struct{}

func (panicky) Evaluate(context.Context, store.Fragment) error { panic("boom") }

func TestPanicRecovered(t *testing.T) {
	d := New(panicky{}, 4, time.Second, zerolog.Nop())
	d.Start(context.Background())
	if !d.Submit(store.Fragment{ID: "f1", ChannelID: "c1"}) {
		t.Fatal("submit refused")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.Stop(ctx)

	stats := d.Stats()
	if stats.Failed != 1 {
		t.Fatalf("failed = %d, want 1 (panic counted, worker survived)", stats.Failed)
	}
	if d.Healthy() {
		t.Fatal("stopped dispatcher reports healthy")
	}
}
