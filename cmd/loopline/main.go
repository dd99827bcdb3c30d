// Command loopline is a command line client for the Loopline social network.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"loopline/internal/app"
	"loopline/internal/config"
	"loopline/internal/live"
	"loopline/internal/membership"
	"loopline/internal/models"
	"loopline/internal/observability"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by --output.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// cli carries what every command needs.
type cli struct {
	output string
	yes    bool
	in     io.Reader
	out    io.Writer

	cfg          *config.Config
	rt           *app.Runtime
	flushTracing observability.ShutdownFunc
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdin, os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", models.UserMessage(err))
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	c := &cli{in: in, out: out}
	root := &cobra.Command{
		Use:           "loopline",
		Short:         "Loopline from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch c.output {
			case outputText, outputJSON, outputYAML:
			default:
				return fmt.Errorf("unknown output format %q", c.output)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if c.rt == nil {
				return nil
			}
			err := c.rt.Close()
			if flushErr := c.flushTracing(cmd.Context()); err == nil {
				err = flushErr
			}
			return err
		},
	}
	root.PersistentFlags().StringVarP(&c.output, "output", "o", outputText, "output format: text, json or yaml")
	root.PersistentFlags().BoolVarP(&c.yes, "yes", "y", false, "answer yes to confirmation prompts")

	root.AddCommand(
		c.registerCmd(), c.loginCmd(), c.logoutCmd(), c.whoamiCmd(),
		c.feedCmd(), c.postCmd(), c.likeCmd(), c.saveCmd(), c.voteCmd(), c.commentCmd(), c.reportCmd(),
		c.profileCmd(), c.followCmd(true), c.followCmd(false), c.searchCmd(),
		c.notificationsCmd(), c.groupsCmd(), c.watchCmd(),
	)
	return root
}

// runtime builds the client runtime on first use.
func (c *cli) runtime(onEvent func(live.Event)) (*app.Runtime, error) {
	if c.rt != nil {
		return c.rt, nil
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	observability.Configure(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	flush, err := observability.InitTracing(context.Background(), observability.TracingConfig{
		Service:     "loopline",
		Environment: cfg.Env,
		Enabled:     cfg.TracingEnabled,
		Exporter:    cfg.TracingExporter,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.TracingSampleRatio,
		Output:      os.Stderr,
	})
	if err != nil {
		return nil, err
	}
	rt, err := app.New(cfg, app.Options{
		Confirmer: membership.ConfirmFunc(c.confirmDelete),
		OnEvent:   onEvent,
	})
	if err != nil {
		return nil, err
	}
	c.cfg, c.rt, c.flushTracing = cfg, rt, flush
	return rt, nil
}

// session restores the persisted credential without opening the live
// channel.
func (c *cli) session(ctx context.Context) (*app.Runtime, error) {
	rt, err := c.runtime(nil)
	if err != nil {
		return nil, err
	}
	ok, err := rt.Auth.Rehydrate(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("not signed in; run `loopline login` first")
	}
	return rt, nil
}

func (c *cli) confirmDelete(_ context.Context, g models.Group) (bool, error) {
	if c.yes {
		return true, nil
	}
	fmt.Fprintf(c.out, "You are the last member of %q. Leaving deletes it. Continue? [y/N] ", g.Name)
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// render writes v in the selected format. text is used for the text format.
func (c *cli) render(v any, text func(w io.Writer)) error {
	switch c.output {
	case outputJSON:
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		// Go through JSON so keys follow the json tags.
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(c.out)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		text(c.out)
		return nil
	}
}
