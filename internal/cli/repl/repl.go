package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gradeline/internal/cli/command"
	httpclient "gradeline/internal/common/http/client"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

// Session is the interactive gradectl shell.
type Session struct {
	client *httpclient.Client
	runner *Runner
	rl     *readline.Instance
}

func New(client *httpclient.Client, commands map[string]command.Command, historyFile string, prettyJSON bool) (*Session, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gradectl> ",
		HistoryFile:     historyFile,
		AutoComplete:    completer(commands),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("init readline failed: %w", err)
	}
	s := &Session{client: client, rl: rl}
	s.runner = NewRunner(client, commands, rl.Stdout(), prettyJSON).WithPrompt(s.promptValue)
	return s, nil
}

func completer(commands map[string]command.Command) *readline.PrefixCompleter {
	services := map[string][]readline.PrefixCompleterInterface{}
	var order []string
	for _, cmd := range command.Sorted(commands) {
		if _, ok := services[cmd.Service]; !ok {
			order = append(order, cmd.Service)
		}
		services[cmd.Service] = append(services[cmd.Service], readline.PcItem(cmd.Action))
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout")),
	}
	for _, service := range order {
		items = append(items, readline.PcItem(service, services[service]...))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) Run(ctx context.Context) error {
	defer s.rl.Close()
	for {
		line, err := s.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if done := s.handleSystemCommand(ctx, line); done {
			return nil
		}
	}
}

// handleSystemCommand runs built-ins and dispatches everything else to the
// runner. It reports true when the shell should exit.
func (s *Session) handleSystemCommand(ctx context.Context, line string) bool {
	switch line {
	case "exit", "quit":
		s.runner.printLine("bye")
		return true
	case "help":
		s.runner.printHelp()
		return false
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.Fields(strings.TrimPrefix(line, "set ")))
		return false
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		s.runner.printLine("error: parse command failed: %v", err)
		return false
	}
	if err := s.runner.Exec(ctx, tokens); err != nil {
		s.runner.printLine("error: %v", err)
	}
	return false
}

func (s *Session) handleSet(parts []string) {
	if len(parts) < 2 {
		s.runner.printLine("usage: set base <url> | set timeout <duration>")
		return
	}
	switch parts[0] {
	case "base":
		s.client.SetBaseURL(parts[1])
		s.runner.printLine("base set to %s", parts[1])
	case "timeout":
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.runner.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.runner.printLine("timeout set to %s", dur)
	default:
		s.runner.printLine("unknown set command")
	}
}

func (s *Session) promptValue(prompt string) (string, error) {
	s.rl.SetPrompt(prompt)
	defer s.rl.SetPrompt("gradectl> ")
	line, err := s.rl.Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
