package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/chatstore/pkg/director"
	"github.com/dotsetgreg/chatstore/pkg/store"
)

func newRecordCommand(flags *globalFlags) *cobra.Command {
	var (
		conversationID string
		role           string
		name           string
		characterID    string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Append typed lines to a conversation",
		Long: strings.TrimSpace(`Read lines interactively and store each one as a message. Messages are
written in the background; the conversation is created when no id is given
and titled from the first line.`),
		Example: strings.Join([]string{
			"  chatstore record",
			"  chatstore record --conversation 5f0c... --role assistant --character robot-001",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				rec := &recorder{
					dir:            s.dir,
					out:            cmd.OutOrStdout(),
					conversationID: conversationID,
					template:       store.MessageCreate{Role: role},
				}
				if name != "" {
					rec.template.Name = &name
				}
				if characterID != "" {
					rec.template.CharacterID = &characterID
				}
				if err := rec.start(ctx); err != nil {
					return err
				}
				interactiveRecord(ctx, rec)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation id (a new one is created when empty)")
	cmd.Flags().StringVarP(&role, "role", "r", "user", "Message role")
	cmd.Flags().StringVar(&name, "name", "", "Speaker name")
	cmd.Flags().StringVar(&characterID, "character", "", "Character id")
	return cmd
}

type recorder struct {
	dir            *director.Director
	out            io.Writer
	conversationID string
	template       store.MessageCreate
	count          int
}

func (r *recorder) start(ctx context.Context) error {
	if r.conversationID == "" {
		conv, err := r.dir.CreateConversation(ctx, store.ConversationCreate{}, true)
		if err != nil {
			return err
		}
		r.conversationID = conv.ConversationID
		fmt.Fprintf(r.out, "Recording into new conversation %s\n", r.conversationID)
		return nil
	}
	if _, err := r.dir.Conversation(ctx, r.conversationID); err != nil {
		return err
	}
	n, err := r.dir.MessageCount(ctx, r.conversationID)
	if err != nil {
		return err
	}
	r.count = n
	fmt.Fprintf(r.out, "Recording into %s (%d messages)\n", r.conversationID, n)
	return nil
}

// add queues one line. The first message of a conversation also retitles it.
func (r *recorder) add(ctx context.Context, line string) error {
	if r.count == 0 {
		if _, err := r.dir.AutoUpdateConversationTitle(ctx, r.conversationID, line); err != nil {
			return err
		}
	}
	m := r.template
	m.ConversationID = r.conversationID
	m.Content = line
	r.dir.CreateMessageBackground(m)
	r.count++
	return nil
}

func interactiveRecord(ctx context.Context, rec *recorder) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s %s: ", appName, rec.template.Role),
		HistoryFile:     filepath.Join(os.TempDir(), ".chatstore_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(rec.out, "Error initializing readline: %v\n", err)
		fmt.Fprintln(rec.out, "Falling back to simple input mode...")
		simpleRecord(ctx, rec, os.Stdin)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Fprintln(rec.out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(rec.out, "Error reading input: %v\n", err)
			continue
		}
		if !handleRecordLine(ctx, rec, line) {
			return
		}
	}
}

func simpleRecord(ctx context.Context, rec *recorder, in io.Reader) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(rec.out, "%s %s: ", appName, rec.template.Role)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				fmt.Fprintln(rec.out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(rec.out, "Error reading input: %v\n", err)
			continue
		}
		if !handleRecordLine(ctx, rec, line) {
			return
		}
	}
}

// handleRecordLine reports false when the session should end.
func handleRecordLine(ctx context.Context, rec *recorder, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}
	if input == "exit" || input == "quit" {
		fmt.Fprintln(rec.out, "Goodbye!")
		return false
	}
	if err := rec.add(ctx, input); err != nil {
		fmt.Fprintf(rec.out, "Error: %v\n", err)
	}
	return true
}
