// Package repl drives the conversation controller from a terminal.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/faustus/internal/events"
	"github.com/zhouzirui/faustus/internal/model/chat"
	"github.com/zhouzirui/faustus/internal/service/conversation"
	"github.com/zhouzirui/faustus/internal/service/session"
	"github.com/zhouzirui/faustus/internal/store"
)

// Welcome is shown for a conversation without messages.
const Welcome = "Welcome to Faustus. How can I assist you today?"

const helpText = `Commands:
  /new        start a new conversation
  /switch N   switch to conversation N
  /delete     delete the current conversation
  /list       list conversations
  /help       show this help
  /quit       exit`

// Controller is what the terminal needs from the conversation controller.
type Controller interface {
	SendMessage(ctx context.Context, text string) (chat.Message, error)
	CreateSession(ctx context.Context) (int, error)
	SwitchSession(index int) (chat.Conversation, error)
	DeleteSession(ctx context.Context) (bool, error)
	Summaries() []session.Summary
	Active() (int, chat.Conversation)
}

// Option customizes a REPL.
type Option func(*REPL)

// WithMarkdown renders finished replies with glamour instead of streaming raw text.
func WithMarkdown(style string, wordWrap int) Option {
	return func(r *REPL) {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(wordWrap),
		)
		if err != nil {
			log.Warn().Err(err).Msg("markdown rendering disabled")
			return
		}
		r.renderer = renderer
	}
}

// REPL reads lines from in and writes the transcript to out.
type REPL struct {
	in       io.Reader
	out      io.Writer
	renderer *glamour.TermRenderer

	// printed is how much of the current reply has been written.
	printed int
}

// New 创建终端交互适配器
func New(in io.Reader, out io.Writer, opts ...Option) *REPL {
	r := &REPL{in: in, out: out}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sink streams reply fragments to the terminal. Pass it to the controller.
func (r *REPL) Sink() events.Sink {
	return events.SinkFunc(func(e events.Event) error {
		switch e.Type {
		case events.TypeState:
			if e.State == conversation.Streaming.String() {
				r.printed = 0
				if r.renderer != nil {
					fmt.Fprintln(r.out, "...")
				}
			}
		case events.TypeFragment:
			if r.renderer != nil || len(e.Content) < r.printed {
				return nil
			}
			fmt.Fprint(r.out, e.Content[r.printed:])
			r.printed = len(e.Content)
		}
		return nil
	})
}

// Run reads commands and messages until /quit, end of input or ctx is done.
func (r *REPL) Run(ctx context.Context, ctrl Controller) error {
	r.showActive(ctrl)

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return errors.Wrap(scanner.Err(), "read input")
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, ctrl, line)
			if err != nil {
				fmt.Fprintln(r.out, err)
			}
			if quit {
				return nil
			}
			continue
		}
		r.send(ctx, ctrl, line)
	}
}

func (r *REPL) send(ctx context.Context, ctrl Controller, text string) {
	reply, err := ctrl.SendMessage(ctx, text)
	var storageErr *store.StorageError
	switch {
	case err == nil, errors.As(err, &storageErr):
		if r.renderer != nil {
			r.printMarkdown(reply.Content)
		} else {
			fmt.Fprintln(r.out)
		}
		if storageErr != nil {
			fmt.Fprintln(r.out, "warning: history may not survive a restart:", storageErr)
		}
	default:
		if r.printed > 0 && r.renderer == nil {
			fmt.Fprintln(r.out)
		}
		fmt.Fprintln(r.out, conversation.UserNotice(err))
	}
}

func (r *REPL) command(ctx context.Context, ctrl Controller, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/list":
		r.list(ctrl)
	case "/new":
		_, err := ctrl.CreateSession(ctx)
		r.showActive(ctrl)
		return false, ignoreStorage(err)
	case "/switch":
		if len(fields) != 2 {
			return false, errors.New("usage: /switch N")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return false, errors.Errorf("not a conversation number: %q", fields[1])
		}
		if _, err := ctrl.SwitchSession(n - 1); err != nil {
			return false, err
		}
		r.showActive(ctrl)
	case "/delete":
		deleted, err := ctrl.DeleteSession(ctx)
		if err = ignoreStorage(err); err != nil {
			return false, err
		}
		if !deleted {
			return false, errors.New("the last conversation cannot be deleted")
		}
		r.showActive(ctrl)
	default:
		return false, errors.Errorf("unknown command %s, try /help", fields[0])
	}
	return false, nil
}

func (r *REPL) list(ctrl Controller) {
	for _, s := range ctrl.Summaries() {
		marker := " "
		if s.Active {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %s (%d messages)\n", marker, s.Label, s.Length)
	}
}

func (r *REPL) showActive(ctrl Controller) {
	index, conv := ctrl.Active()
	fmt.Fprintf(r.out, "-- Chat %d --\n", index+1)
	if len(conv) == 0 {
		fmt.Fprintln(r.out, Welcome)
		return
	}
	for _, msg := range conv {
		switch msg.Role {
		case chat.RoleUser:
			fmt.Fprintln(r.out, "you:", msg.Content)
		default:
			if r.renderer != nil {
				r.printMarkdown(msg.Content)
				continue
			}
			fmt.Fprintln(r.out, msg.Content)
		}
	}
}

func (r *REPL) printMarkdown(text string) {
	styled, err := r.renderer.Render(text)
	if err != nil {
		fmt.Fprintln(r.out, text)
		return
	}
	fmt.Fprint(r.out, styled)
}

// ignoreStorage logs a save failure; the in-memory change still happened.
func ignoreStorage(err error) error {
	var storageErr *store.StorageError
	if errors.As(err, &storageErr) {
		log.Warn().Err(err).Msg("conversation change not saved")
		return nil
	}
	return err
}
