package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/autophile/internal/core/rag"
	"github.com/markdave123-py/autophile/internal/services"
)

var askSession string

var askCmd = &cobra.Command{
	Use:   "ask [document-id] [question]",
	Short: "Ask a question about a processed document",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "", "continue an existing chat session")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, _, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	in := services.ChatInput{
		DocumentID: args[0],
		SessionID:  askSession,
		Message:    strings.Join(args[1:], " "),
	}
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	var session string
	err = a.Chat.Stream(cmd.Context(), in, func(id string) { session = id }, func(ev rag.Event) error {
		switch ev.Type {
		case rag.EventThinking:
			fmt.Fprintf(errOut, "[%s] %s\n", ev.Stage, ev.Content)
		case rag.EventContent:
			fmt.Fprint(out, ev.Content)
		case rag.EventCitations:
			if len(ev.Citations) > 0 {
				pages := make([]string, 0, len(ev.Citations))
				for _, c := range ev.Citations {
					pages = append(pages, fmt.Sprintf("p.%d", c.Page))
				}
				fmt.Fprintf(errOut, "sources: %s\n", strings.Join(pages, ", "))
			}
		case rag.EventError:
			fmt.Fprintf(errOut, "error: %s\n", ev.Content)
		}
		return nil
	})
	fmt.Fprintln(out)
	if session != "" {
		fmt.Fprintf(errOut, "session: %s\n", session)
	}
	return err
}
