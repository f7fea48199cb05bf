package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/chatrelay/pkg/cli"
	"github.com/haivivi/chatrelay/pkg/config"
	"github.com/haivivi/chatrelay/pkg/gateway"
	"github.com/haivivi/chatrelay/pkg/llm"
	"github.com/haivivi/chatrelay/pkg/speech"
)

var (
	simScript  string
	simEcho    bool
	simSpeech  bool
	simFormat  string
	simOutput  string
	simTimeout time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Feed a scripted conversation through the bot offline",
	Long: `Feed a scripted conversation through the bot without a chat bridge.

Messages are admitted in script order, exactly as the gateway would admit
them, and every reply is recorded. The transcript shows that replies to one
user keep their order while users are served concurrently.

Script format (YAML or JSON):

  messages:
    - from: "5215550001@s.whatsapp.net"
      text: hola
    - from: "5215550002@s.whatsapp.net"
      audio_file: note.ogg
      after: 50ms

With --echo no config file or API key is needed: the bot replies with the
message text prefixed by "re:".`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVarP(&simScript, "file", "f", "", "script file, - for stdin (required)")
	simulateCmd.Flags().BoolVar(&simEcho, "echo", false, "reply with an echo instead of the configured chat backend")
	simulateCmd.Flags().BoolVar(&simSpeech, "speech", false, "use the configured tts and asr backends")
	simulateCmd.Flags().StringVarP(&simFormat, "format", "o", "table", "output format (yaml, json, table)")
	simulateCmd.Flags().StringVar(&simOutput, "output", "", "write the transcript to a file")
	simulateCmd.Flags().DurationVar(&simTimeout, "timeout", time.Minute, "give up waiting for replies after this long")
	simulateCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(simulateCmd)
}

// script is a simulated conversation.
type script struct {
	Messages []scriptMessage `yaml:"messages" json:"messages"`
}

type scriptMessage struct {
	ID   string `yaml:"id" json:"id"`
	From string `yaml:"from" json:"from"`
	Name string `yaml:"name" json:"name"`
	Text string `yaml:"text" json:"text"`
	// AudioFile is read relative to the script.
	AudioFile string `yaml:"audio_file" json:"audio_file"`
	// After delays this message relative to the previous one, e.g. "50ms".
	After string `yaml:"after" json:"after"`
}

func runSimulate(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(simFormat)
	if err != nil {
		return err
	}
	var sc script
	if err := cli.LoadRequest(simScript, &sc); err != nil {
		return err
	}
	if len(sc.Messages) == 0 {
		return errors.New("simulate: script has no messages")
	}

	cfg, cleanup, err := simulateConfig()
	if err != nil {
		return err
	}
	defer cleanup()
	logger, err := newLogger(stderr, cfg.Log)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	opts := appOptions{NoSpeech: !simSpeech}
	if simEcho {
		opts.Generator = llm.Echo{Prefix: "re:"}
	}
	a, err := newApp(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}

	rec := &recorder{start: time.Now()}
	baseDir := filepath.Dir(simScript)
	for i, m := range sc.Messages {
		in, err := m.inbound(i, baseDir)
		if err != nil {
			return errors.Join(err, a.close())
		}
		if m.After != "" {
			d, err := time.ParseDuration(m.After)
			if err != nil {
				return errors.Join(fmt.Errorf("simulate: message %d: after: %w", i+1, err), a.close())
			}
			time.Sleep(d)
		}
		outcome := a.bot.Handle(ctx, in, &simReplier{to: in.From, rec: rec})
		rec.add(in.From, "admit", outcome.String())
	}

	waitCtx, cancel := context.WithTimeout(ctx, simTimeout)
	defer cancel()
	if err := a.shutdown(waitCtx); err != nil {
		return err
	}
	st := a.dispatcher.Stats()
	cli.PrintVerbose(verbose, "completed=%d failed=%d", st.Completed, st.Failed)

	out := cli.OutputOptions{Format: format, File: simOutput}
	if simOutput == "" {
		out.Writer = cmd.OutOrStdout()
	}
	return cli.Output(rec.events(), out)
}

// simulateConfig loads the config file, or with --echo falls back to a
// local setup under a temp dir when none exists. cleanup removes that dir.
func simulateConfig() (cfg *config.Config, cleanup func(), err error) {
	cleanup = func() {}
	cfg, err = loadConfig()
	if err == nil {
		return cfg, cleanup, nil
	}
	if !simEcho || !errors.Is(err, fs.ErrNotExist) {
		return nil, cleanup, err
	}
	dir, err := os.MkdirTemp("", "chatrelay-simulate-")
	if err != nil {
		return nil, cleanup, fmt.Errorf("simulate: %w", err)
	}
	cleanup = func() { os.RemoveAll(dir) }
	cfg = &config.Config{
		Gateway: config.Gateway{URL: "simulate://"},
		Storage: config.Storage{Kind: config.StorageLocal, Dir: dir},
		Chat:    config.Backend{Schema: config.SchemaOpenAIChat, APIKey: "-", Model: "echo"},
		Persona: config.Persona{Prompt: "Simulated assistant."},
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return cfg, cleanup, nil
}

func (m scriptMessage) inbound(i int, baseDir string) (*gateway.Inbound, error) {
	if m.From == "" {
		return nil, fmt.Errorf("simulate: message %d: from is required", i+1)
	}
	in := &gateway.Inbound{
		ID:   m.ID,
		From: m.From,
		Name: m.Name,
		Text: m.Text,
		Time: time.Now(),
	}
	if in.ID == "" {
		in.ID = "sim-" + strconv.Itoa(i+1)
	}
	if m.AudioFile != "" {
		path := m.AudioFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("simulate: message %d: %w", i+1, err)
		}
		mt := speech.MIMEForFormat(strings.TrimPrefix(filepath.Ext(path), "."))
		in.Audio = &gateway.Media{MIMEType: mt, Data: data}
	}
	return in, nil
}

// simEvent is one line of the simulated transcript.
type simEvent struct {
	At   string `yaml:"at" json:"at"`
	User string `yaml:"user" json:"user"`
	Kind string `yaml:"kind" json:"kind"`
	Body string `yaml:"body" json:"body"`
}

type transcript []simEvent

func (t transcript) Header() []string { return []string{"AT", "USER", "KIND", "BODY"} }

func (t transcript) Rows() [][]string {
	rows := make([][]string, len(t))
	for i, e := range t {
		rows[i] = []string{e.At, e.User, e.Kind, e.Body}
	}
	return rows
}

type recorder struct {
	start time.Time
	mu    sync.Mutex
	log   transcript
}

func (r *recorder) add(user, kind, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, simEvent{
		At:   cli.FormatDuration(time.Since(r.start)),
		User: user,
		Kind: kind,
		Body: body,
	})
}

func (r *recorder) events() transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append(transcript(nil), r.log...)
}

// simReplier records replies instead of sending them.
type simReplier struct {
	to  string
	rec *recorder
}

func (s *simReplier) EmitText(ctx context.Context, text string) error {
	s.rec.add(s.to, "text", text)
	return ctx.Err()
}

func (s *simReplier) EmitAudio(ctx context.Context, locator string) error {
	s.rec.add(s.to, "audio", locator)
	return ctx.Err()
}

func (s *simReplier) EmitImage(ctx context.Context, caption string, img *gateway.Media) error {
	s.rec.add(s.to, "image", fmt.Sprintf("%s %s", img.MIMEType, cli.FormatBytes(int64(len(img.Data)))))
	return ctx.Err()
}

func (s *simReplier) Presence(ctx context.Context, state string) error {
	s.rec.add(s.to, "presence", state)
	return ctx.Err()
}
