package interaction

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// TerminalPort drives confirmations and questions through an interactive
// terminal session. A single reader is shared across prompts so buffered
// input is never lost between them.
type TerminalPort struct {
	promptMu sync.Mutex
	reader   *bufio.Reader
	writer   io.Writer

	// Quiet suppresses event rendering; prompts still appear.
	Quiet bool
}

// NewTerminalPort creates a terminal port reading from in and writing to out.
func NewTerminalPort(in io.Reader, out io.Writer) *TerminalPort {
	return &TerminalPort{
		reader: bufio.NewReader(in),
		writer: out,
	}
}

// Confirm shows the pending tool call and waits for a y/N answer. Anything
// other than y or yes denies, as does ctx expiry.
func (p *TerminalPort) Confirm(ctx context.Context, req ConfirmRequest) (bool, error) {
	p.promptMu.Lock()
	defer p.promptMu.Unlock()

	p.displayConfirmRequest(req)

	line, err := p.readLine(ctx)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(p.writer, "")
			fmt.Fprintln(p.writer, "  ⏱️  Confirmation TIMED OUT")
			return false, ctx.Err()
		}
		return false, err
	}

	switch strings.TrimSpace(strings.ToLower(line)) {
	case "y", "yes":
		fmt.Fprintln(p.writer, "")
		fmt.Fprintln(p.writer, "  ✅ Tool call APPROVED")
		fmt.Fprintln(p.writer, "")

		log.Info().Str("tool", req.Tool).Msg("Tool call approved via terminal")

		return true, nil

	default:
		fmt.Fprintln(p.writer, "")
		fmt.Fprintln(p.writer, "  ❌ Tool call DENIED")
		fmt.Fprintln(p.writer, "")

		log.Info().Str("tool", req.Tool).Msg("Tool call denied via terminal")

		return false, nil
	}
}

// Ask presents the question, numbering options when offered. A numeric
// answer selects the matching option; any other input counts as free text.
func (p *TerminalPort) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	p.promptMu.Lock()
	defer p.promptMu.Unlock()

	fmt.Fprintln(p.writer, "")
	fmt.Fprintf(p.writer, "  ❓ %s\n", req.Question)

	for i, opt := range req.Options {
		fmt.Fprintf(p.writer, "    %d) %s\n", i+1, opt)
	}

	if len(req.Options) > 0 && req.AllowFreeText {
		fmt.Fprint(p.writer, "  Answer (number or text): ")
	} else if len(req.Options) > 0 {
		fmt.Fprint(p.writer, "  Answer (number): ")
	} else {
		fmt.Fprint(p.writer, "  Answer: ")
	}

	line, err := p.readLine(ctx)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(p.writer, "")
			fmt.Fprintln(p.writer, "  ⏱️  Question TIMED OUT")
			return AskResponse{}, ctx.Err()
		}
		return AskResponse{}, err
	}

	answer := strings.TrimSpace(line)

	if len(req.Options) > 0 {
		if n, convErr := strconv.Atoi(answer); convErr == nil && n >= 1 && n <= len(req.Options) {
			selected := req.Options[n-1]
			return AskResponse{Answer: selected, SelectedOption: selected}, nil
		}
		for _, opt := range req.Options {
			if strings.EqualFold(opt, answer) {
				return AskResponse{Answer: opt, SelectedOption: opt}, nil
			}
		}
	}

	return AskResponse{Answer: answer}, nil
}

// Emit renders run progress as indented status lines. It never waits on a
// pending prompt.
func (p *TerminalPort) Emit(ev Event) {
	if p.Quiet {
		return
	}

	switch ev.Kind {
	case EventStep:
		fmt.Fprintf(p.writer, "  · step %v\n", ev.Payload["step"])
	case EventAssistantMessage:
		if content, ok := ev.Payload["content"].(string); ok && content != "" {
			fmt.Fprintf(p.writer, "%s\n", content)
		}
	case EventToolCall:
		fmt.Fprintf(p.writer, "  · calling %v\n", ev.Payload["tool"])
	case EventToolResult:
		fmt.Fprintf(p.writer, "  · %v finished\n", ev.Payload["tool"])
	case EventToolDenied:
		fmt.Fprintf(p.writer, "  · %v denied: %v\n", ev.Payload["tool"], ev.Payload["reason"])
	case EventRunFinished:
		fmt.Fprintf(p.writer, "  · run finished (%v)\n", ev.Payload["finish_reason"])
	}
}

func (p *TerminalPort) displayConfirmRequest(req ConfirmRequest) {
	fmt.Fprintln(p.writer, "")
	fmt.Fprintln(p.writer, "╔════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(p.writer, "║              🔐 TOOL CONFIRMATION REQUIRED                     ║")
	fmt.Fprintln(p.writer, "╚════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(p.writer, "")
	fmt.Fprintf(p.writer, "  Tool:    %s\n", req.Tool)

	if len(req.Args) > 0 {
		if encoded, err := json.Marshal(req.Args); err == nil {
			fmt.Fprintf(p.writer, "  Args:    %s\n", encoded)
		}
	}

	if req.Reason != "" {
		fmt.Fprintf(p.writer, "  Reason:  %s\n", req.Reason)
	}

	fmt.Fprintln(p.writer, "")
	fmt.Fprint(p.writer, "  Approve this tool call? [y/N]: ")
}

// readLine reads one line in a goroutine so ctx expiry is observed even
// while the terminal is idle. A reader blocked on input stays parked until
// the next line arrives, which is acceptable for an interactive session.
func (p *TerminalPort) readLine(ctx context.Context) (string, error) {
	lineChan := make(chan string, 1)
	errChan := make(chan error, 1)

	go func() {
		line, err := p.reader.ReadString('\n')
		if err != nil && line == "" {
			errChan <- err
			return
		}
		lineChan <- line
	}()

	select {
	case line := <-lineChan:
		return line, nil
	case err := <-errChan:
		if err == io.EOF {
			return "", nil
		}
		return "", fmt.Errorf("failed to read input: %w", err)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
