package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haivivi/chatrelay/pkg/dedup"
	"github.com/haivivi/chatrelay/pkg/gateway"
	"github.com/haivivi/chatrelay/pkg/llm"
	"github.com/haivivi/chatrelay/pkg/relay"
	"github.com/haivivi/chatrelay/pkg/speech"
	"github.com/haivivi/chatrelay/pkg/storage"
)

// fakeReplier records everything sent to one chat.
type fakeReplier struct {
	mu     sync.Mutex
	sent   []string
	images []*gateway.Media
	// failText makes EmitText fail for texts with this prefix.
	failText string
}

func (f *fakeReplier) record(s string) {
	f.mu.Lock()
	f.sent = append(f.sent, s)
	f.mu.Unlock()
}

func (f *fakeReplier) EmitText(_ context.Context, text string) error {
	if f.failText != "" && strings.HasPrefix(text, f.failText) {
		return errors.New("send failed")
	}
	f.record("text:" + text)
	return nil
}

func (f *fakeReplier) EmitAudio(_ context.Context, locator string) error {
	f.record("audio:" + locator)
	return nil
}

func (f *fakeReplier) EmitImage(_ context.Context, caption string, img *gateway.Media) error {
	f.mu.Lock()
	f.images = append(f.images, img)
	f.mu.Unlock()
	f.record("image:" + img.MIMEType)
	return nil
}

func (f *fakeReplier) Presence(_ context.Context, state string) error {
	f.record("presence:" + state)
	return nil
}

func (f *fakeReplier) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newStore(t *testing.T) *storage.Local {
	t.Helper()
	s, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

var fakeTTS = speech.SynthesizeFunc(func(_ context.Context, text string) (*speech.Audio, error) {
	return &speech.Audio{Data: []byte("mp3:" + text), MIMEType: "audio/mpeg"}, nil
})

func textJob(from, id, text string, r Replier) Job {
	return Job{Inbound: &gateway.Inbound{ID: id, From: from, Text: text}, Reply: r}
}

func TestResponderTextAndAudio(t *testing.T) {
	store := newStore(t)
	var gotReq llm.Request
	prompt, _ := llm.NewPrompt("", llm.PromptData{Persona: "Eres Glory."})
	resp, err := NewResponder(ResponderConfig{
		Generator: llm.GeneratorFunc(func(_ context.Context, req llm.Request) (string, error) {
			gotReq = req
			return "Claro, te ayudo.", nil
		}),
		Prompt:      prompt,
		Synthesizer: fakeTTS,
		Store:       store,
	})
	if err != nil {
		t.Fatal(err)
	}

	r := &fakeReplier{}
	if err := resp.Process(context.Background(), "u1", textJob("u1", "m1", "hola", r)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if gotReq.System != "Eres Glory." || gotReq.Text != "hola" || gotReq.User != "u1" {
		t.Fatalf("request = %+v", gotReq)
	}
	log := r.log()
	if len(log) != 3 || log[0] != "presence:composing" || log[1] != "text:Claro, te ayudo." || !strings.HasPrefix(log[2], "audio:") {
		t.Fatalf("sent = %v", log)
	}
	loc := strings.TrimPrefix(log[2], "audio:")
	if !strings.Contains(loc, "/sent/response-") || !strings.HasSuffix(loc, ".mp3") {
		t.Fatalf("locator = %q", loc)
	}
	data, err := os.ReadFile(loc)
	if err != nil || string(data) != "mp3:Claro, te ayudo." {
		t.Fatalf("stored audio = %q, %v", data, err)
	}
}

func TestResponderFailureSendsFallback(t *testing.T) {
	boom := errors.New("groq down")
	resp, _ := NewResponder(ResponderConfig{
		Generator: llm.GeneratorFunc(func(context.Context, llm.Request) (string, error) {
			return "", boom
		}),
	})
	r := &fakeReplier{}
	err := resp.Process(context.Background(), "u1", textJob("u1", "m1", "hola", r))
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "bot: generate") {
		t.Fatalf("Process = %v", err)
	}
	log := r.log()
	if len(log) != 2 || log[1] != "text:"+DefaultFallbackText {
		t.Fatalf("sent = %v", log)
	}
}

func TestResponderFallbackSendFailure(t *testing.T) {
	boom := errors.New("tts down")
	resp, _ := NewResponder(ResponderConfig{
		Generator: llm.Echo{},
		Synthesizer: speech.SynthesizeFunc(func(context.Context, string) (*speech.Audio, error) {
			return nil, boom
		}),
		Store:        newStore(t),
		FallbackText: "fallo",
	})
	r := &fakeReplier{failText: "fallo"}
	err := resp.Process(context.Background(), "u1", textJob("u1", "m1", "hola", r))
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "send fallback") {
		t.Fatalf("Process = %v", err)
	}
}

func TestResponderEmptyReply(t *testing.T) {
	resp, _ := NewResponder(ResponderConfig{
		Generator: llm.GeneratorFunc(func(context.Context, llm.Request) (string, error) {
			return "", llm.ErrEmptyReply
		}),
	})
	r := &fakeReplier{}
	if err := resp.Process(context.Background(), "u1", textJob("u1", "m1", "hola", r)); err != nil {
		t.Fatal(err)
	}
	if log := r.log(); log[len(log)-1] != "text:"+DefaultEmptyReplyText {
		t.Fatalf("sent = %v", log)
	}
}

func TestResponderSkipsEmptyMessages(t *testing.T) {
	resp, _ := NewResponder(ResponderConfig{Generator: llm.Echo{}})
	r := &fakeReplier{}
	if err := resp.Process(context.Background(), "u1", textJob("u1", "m1", "", r)); err != nil {
		t.Fatal(err)
	}
	if log := r.log(); len(log) != 0 {
		t.Fatalf("sent = %v", log)
	}
}

func TestResponderVoiceNote(t *testing.T) {
	store := newStore(t)
	var heard *speech.Audio
	resp, _ := NewResponder(ResponderConfig{
		Generator: llm.Echo{Prefix: "dijiste: "},
		Transcriber: speech.TranscribeFunc(func(_ context.Context, a *speech.Audio) (string, error) {
			heard = a
			return " precio del combo ", nil
		}),
		Store: store,
	})
	r := &fakeReplier{}
	job := Job{
		Inbound: &gateway.Inbound{ID: "m1", From: "u1", Audio: &gateway.Media{MIMEType: "audio/ogg; codecs=opus", Data: []byte("OggS")}},
		Reply:   r,
	}
	if err := resp.Process(context.Background(), "u1", job); err != nil {
		t.Fatal(err)
	}
	if heard == nil || string(heard.Data) != "OggS" {
		t.Fatalf("transcriber got %+v", heard)
	}
	if log := r.log(); log[len(log)-1] != "text:dijiste: precio del combo" {
		t.Fatalf("sent = %v", log)
	}
	entries, _ := os.ReadDir(store.Root() + "/received")
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".ogg") {
		t.Fatalf("received dir = %v", entries)
	}
}

func TestResponderVoiceNoteWithoutTranscriber(t *testing.T) {
	resp, _ := NewResponder(ResponderConfig{Generator: llm.Echo{}})
	r := &fakeReplier{}
	job := Job{Inbound: &gateway.Inbound{ID: "m1", From: "u1", Audio: &gateway.Media{Data: []byte("x")}}, Reply: r}
	if err := resp.Process(context.Background(), "u1", job); !errors.Is(err, ErrNoTranscriber) {
		t.Fatalf("Process = %v", err)
	}
}

func TestResponderWelcome(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xff, 0xd8, 0xff})
	}))
	defer srv.Close()

	generated := false
	resp, _ := NewResponder(ResponderConfig{
		Generator: llm.GeneratorFunc(func(context.Context, llm.Request) (string, error) {
			generated = true
			return "x", nil
		}),
		Welcome: &Welcome{
			Keywords: []string{"hola", "buenos días"},
			Text:     "¡Bienvenido!",
			ImageURL: srv.URL,
		},
	})
	for i, msg := range []string{"¡Hola!", "Buenos  días, señorita"} {
		r := &fakeReplier{}
		if err := resp.Process(context.Background(), "u1", textJob("u1", fmt.Sprint(i), msg, r)); err != nil {
			t.Fatal(err)
		}
		log := r.log()
		if len(log) != 3 || log[1] != "text:¡Bienvenido!" || log[2] != "image:image/jpeg" {
			t.Fatalf("%q: sent = %v", msg, log)
		}
	}
	if generated {
		t.Fatal("generator called for a welcome message")
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("image fetched %d times, want 1", n)
	}
}

func TestWelcomeSlowImageDoesNotBlockOthers(t *testing.T) {
	var hits atomic.Int32
	firstStarted := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(firstStarted)
			<-release
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG"))
	}))
	defer srv.Close()
	defer close(release)

	wel := &Welcome{Keywords: []string{"hola"}, Text: "hi", ImageURL: srv.URL}
	slow := make(chan error, 1)
	go func() {
		_, err := wel.loadImage(context.Background())
		slow <- err
	}()
	<-firstStarted

	fast := make(chan error, 1)
	go func() {
		_, err := wel.loadImage(context.Background())
		fast <- err
	}()
	select {
	case err := <-fast:
		if err != nil {
			t.Fatalf("second load: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second load waited for the first download")
	}

	release <- struct{}{}
	if err := <-slow; err != nil {
		t.Fatalf("first load: %v", err)
	}
}

func TestWelcomeMatches(t *testing.T) {
	w := &Welcome{Keywords: []string{"hola", "Buenas tardes"}, Text: "hi"}
	tests := map[string]bool{
		"hola":                     true,
		"HOLA, ¿cómo estás?":       true,
		"buenas tardes!":           true,
		"holanda es bonita":        false,
		"quiero el precio":         false,
		"buenas noches, no tardes": false,
	}
	for text, want := range tests {
		if got := w.Matches(text); got != want {
			t.Errorf("Matches(%q) = %v, want %v", text, got, want)
		}
	}
	var nilWelcome *Welcome
	if nilWelcome.Matches("hola") {
		t.Error("nil welcome matched")
	}
}

func TestFetcherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/big" {
			w.Write(make([]byte, 64))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := &Fetcher{MaxBytes: 16}
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("missing: %v", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/big"); err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("big: %v", err)
	}
}

type admitFunc func(key string, entries ...Job) error

func (f admitFunc) Admit(key string, entries ...Job) error { return f(key, entries...) }

func TestBotAdmissionPolicy(t *testing.T) {
	var admitted []string
	full := false
	b := New(Config{
		Relay: admitFunc(func(key string, jobs ...Job) error {
			if full {
				return fmt.Errorf("%w: key=%s", relay.ErrQueueFull, key)
			}
			admitted = append(admitted, jobs[0].Inbound.ID)
			return nil
		}),
		Dedup:        dedup.NewMemory(time.Hour),
		IgnoreGroups: true,
	})
	ctx := context.Background()
	r := &fakeReplier{}

	if got := b.Handle(ctx, &gateway.Inbound{ID: "m1", From: "u1", Text: "a"}, r); got != OutcomeAdmitted {
		t.Fatalf("m1: %v", got)
	}
	if got := b.Handle(ctx, &gateway.Inbound{ID: "m1", From: "u1", Text: "a"}, r); got != OutcomeDuplicate {
		t.Fatalf("m1 again: %v", got)
	}
	if got := b.Handle(ctx, &gateway.Inbound{ID: "m2", From: "1203@g.us", Text: "a"}, r); got != OutcomeIgnored {
		t.Fatalf("group: %v", got)
	}
	full = true
	if got := b.Handle(ctx, &gateway.Inbound{ID: "m3", From: "u1", Text: "a"}, r); got != OutcomeBusy {
		t.Fatalf("full: %v", got)
	}
	if fmt.Sprint(admitted) != "[m1]" {
		t.Fatalf("admitted = %v", admitted)
	}
	if log := r.log(); len(log) != 1 || log[0] != "text:"+DefaultBusyText {
		t.Fatalf("sent = %v", log)
	}
}

func TestBotRejectedMessageIsNotRemembered(t *testing.T) {
	seen := dedup.NewMemory(time.Hour)
	task := relay.TaskFunc[string, Job](func(ctx context.Context, key string, job Job) error { return nil })
	closed := relay.New(relay.Config[string, Job]{Task: task})
	closed.Close()

	ctx := context.Background()
	r := &fakeReplier{}
	in := &gateway.Inbound{ID: "m1", From: "u1", Text: "hola"}

	b := New(Config{Relay: closed, Dedup: seen})
	if got := b.Handle(ctx, in, r); got != OutcomeRejected {
		t.Fatalf("closed dispatcher: %v", got)
	}
	if n := seen.Len(); n != 0 {
		t.Fatalf("rejected id still remembered (%d ids)", n)
	}

	// The bridge redelivers after a restart.
	open := relay.New(relay.Config[string, Job]{Task: task})
	b = New(Config{Relay: open, Dedup: seen})
	if got := b.Handle(ctx, in, r); got != OutcomeAdmitted {
		t.Fatalf("redelivery: %v, want admitted", got)
	}
	if got := b.Handle(ctx, in, r); got != OutcomeDuplicate {
		t.Fatalf("second redelivery: %v, want duplicate", got)
	}
	if err := open.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
}

// TestBotPerUserOrder runs the whole pipeline: bot admission, relay
// ordering and the responder.
func TestBotPerUserOrder(t *testing.T) {
	var (
		mu       sync.Mutex
		inflight = map[string]int{}
		overlap  bool
	)
	gen := llm.GeneratorFunc(func(_ context.Context, req llm.Request) (string, error) {
		mu.Lock()
		inflight[req.User]++
		if inflight[req.User] > 1 {
			overlap = true
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		inflight[req.User]--
		mu.Unlock()
		return "re:" + req.Text, nil
	})
	resp, err := NewResponder(ResponderConfig{Generator: gen, Synthesizer: fakeTTS, Store: newStore(t)})
	if err != nil {
		t.Fatal(err)
	}
	d := relay.New(relay.Config[string, Job]{Task: resp})
	b := New(Config{Relay: d})

	ctx := context.Background()
	r1, r2 := &fakeReplier{}, &fakeReplier{}
	for _, m := range []string{"A", "B", "C"} {
		b.Handle(ctx, &gateway.Inbound{ID: "u1" + m, From: "u1", Text: m}, r1)
	}
	for _, m := range []string{"X", "Y"} {
		b.Handle(ctx, &gateway.Inbound{ID: "u2" + m, From: "u2", Text: m}, r2)
	}
	b.Handle(ctx, &gateway.Inbound{ID: "u1D", From: "u1", Text: "D"}, r1)

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.Shutdown(sctx); err != nil {
		t.Fatal(err)
	}
	if overlap {
		t.Fatal("two messages of one user were processed concurrently")
	}

	texts := func(r *fakeReplier) []string {
		var out []string
		for _, s := range r.log() {
			if strings.HasPrefix(s, "text:") {
				out = append(out, strings.TrimPrefix(s, "text:"))
			}
		}
		return out
	}
	if got := fmt.Sprint(texts(r1)); got != "[re:A re:B re:C re:D]" {
		t.Errorf("u1 replies = %s", got)
	}
	if got := fmt.Sprint(texts(r2)); got != "[re:X re:Y]" {
		t.Errorf("u2 replies = %s", got)
	}
	if st := d.Stats(); st.Completed != 6 || st.Keys != 0 {
		t.Errorf("stats = %+v", st)
	}
}
