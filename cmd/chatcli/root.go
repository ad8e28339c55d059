package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chatrelay/pkg/conversation"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

const defaultEndpoint = "http://localhost:8080/api/chat"

type options struct {
	endpoint string
	code     string
	logLevel string
	noColor  bool
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "chatcli",
		Short: "Chat with a model through the relay",
		Long: `Reads one message per line from stdin and streams the reply.

Commands:
  /cancel   stop the reply in progress, keeping what arrived
  /quit     exit`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.noColor {
				color.NoColor = true
			}
			logger.InitWriter(errOut, opts.logLevel, "text")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, in, out, errOut)
		},
	}

	cmd.Flags().StringVar(&opts.endpoint, "endpoint", envOr("CHATRELAY_ENDPOINT", defaultEndpoint), "Chat route of the relay")
	cmd.Flags().StringVar(&opts.code, "code", os.Getenv("CHATRELAY_CODE"), "Access code sent as the code query parameter")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func run(ctx context.Context, opts options, in io.Reader, out, errOut io.Writer) error {
	session := conversation.Session{Endpoint: opts.endpoint, Code: opts.code}
	if _, err := session.URL(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := conversation.New(session)
	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		r := newRenderer(out)
		tr, stop := p.SubscribeTranscript()
		defer stop()
		for msgs := range tr {
			r.render(msgs)
		}
	}()
	notices := make(chan struct{})
	go func() {
		defer close(notices)
		st, stop := p.SubscribeStatus()
		defer stop()
		for s := range st {
			if s != "" {
				fmt.Fprintln(errOut, color.YellowString("! %s", s))
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				// stdin closed: let the last reply finish
				waitIdle(ctx, p)
				break loop
			}
			switch text := strings.TrimSpace(line); text {
			case "":
			case "/quit":
				break loop
			case "/cancel":
				p.Cancel()
			default:
				err := p.Submit(ctx, models.NewTextMessage(models.RoleUser, text))
				if errors.Is(err, conversation.ErrTurnInFlight) {
					fmt.Fprintln(errOut, color.YellowString("! still answering; /cancel to stop"))
				} else if err != nil {
					fmt.Fprintln(errOut, color.RedString("! %v", err))
				}
			}
		}
	}

	cancel()
	err := <-runErr
	<-rendered
	<-notices
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func waitIdle(ctx context.Context, p *conversation.Pipeline) {
	ch, stop := p.SubscribeBusy()
	defer stop()
	for {
		select {
		case busy, ok := <-ch:
			if !ok || !busy {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
