package repl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"gradeline/internal/cli/command"
	httpclient "gradeline/internal/common/http/client"
)

// PromptFunc asks the operator for one missing value.
type PromptFunc func(prompt string) (string, error)

// Runner executes registry commands against the grading server.
type Runner struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	out        io.Writer
	prettyJSON bool
	prompt     PromptFunc
}

func NewRunner(client *httpclient.Client, commands map[string]command.Command, out io.Writer, prettyJSON bool) *Runner {
	return &Runner{client: client, commands: commands, out: out, prettyJSON: prettyJSON}
}

// WithPrompt enables interactive filling of required fields.
func (r *Runner) WithPrompt(prompt PromptFunc) *Runner {
	r.prompt = prompt
	return r
}

// Exec runs "<service> <action> key=value ...". It returns an error when
// the server answers with a non-success envelope.
func (r *Runner) Exec(ctx context.Context, tokens []string) error {
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	cmd, ok := r.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params, err := command.ParseArgs(tokens[2:])
	if err != nil {
		return err
	}
	params.Canonicalize(cmd.Fields)
	if err := r.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	r.render(resp)
	_, err = httpclient.DecodeEnvelope(resp)
	return err
}

func (r *Runner) promptMissing(cmd command.Command, params command.Params) error {
	if r.prompt == nil {
		return nil
	}
	for _, field := range command.Missing(cmd, params) {
		value, err := r.prompt(field.Prompt + ": ")
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (r *Runner) render(resp httpclient.ResponseInfo) {
	r.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	if r.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			r.printLine("%s", string(formatted))
			return
		}
	}
	r.printLine("%s", string(resp.Body))
}

func (r *Runner) printHelp() {
	r.printLine("usage: <service> <action> key=value ...")
	r.printLine("system: help | exit | set base|timeout")
	for _, cmd := range command.Sorted(r.commands) {
		r.printLine("  %-20s %s", cmd.Key(), cmd.Summary)
	}
	r.printLine("examples:")
	r.printLine("  stuck requeue file_id=8c1f...")
	r.printLine("  machine assign id=hw3 host=lab-07")
	r.printLine("  script upload id=hw3 kind=full file=./full_test.sh")
}

func (r *Runner) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(r.out, format+"\n", args...)
}
