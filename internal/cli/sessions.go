package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harun/docrelay/internal/daemon"
	"github.com/harun/docrelay/pkg/backend"
	"github.com/harun/docrelay/pkg/selection"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect pending selection sessions",
	Long: `Sessions are created when a document is answered with the connect keyword
and removed when the owner picks a candidate. Orphaned ones are only removed by hand.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <list-message-id>",
	Short: "Show one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <list-message-id>",
	Short: "Delete one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// sessionView is a session without the document bytes.
type sessionView struct {
	ListMessageID           string              `json:"list_msg_id"`
	Owner                   string              `json:"sender"`
	ChatID                  string              `json:"chat_id,omitempty"`
	QuotedDocumentMessageID string              `json:"quoted_pdf_msg_id"`
	Filename                string              `json:"filename"`
	MimeType                string              `json:"mimetype"`
	Size                    int                 `json:"size"`
	Candidates              []backend.Candidate `json:"approvedRequests"`
	CreatedAt               time.Time           `json:"created_at"`
}

func viewOf(s *selection.Session) sessionView {
	return sessionView{
		ListMessageID:           s.ListMessageID,
		Owner:                   s.Owner,
		ChatID:                  s.ChatID,
		QuotedDocumentMessageID: s.QuotedDocumentMessageID,
		Filename:                s.Attachment.Filename,
		MimeType:                s.Attachment.MimeType,
		Size:                    len(s.Attachment.Data),
		Candidates:              s.Candidates,
		CreatedAt:               s.CreatedAt,
	}
}

func openSessions() (selection.Store, error) {
	_, cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Sessions.Backend == selection.BackendMemory {
		return nil, fmt.Errorf("the memory session backend is private to the running relay")
	}
	store, err := selection.Open(daemon.SessionOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return store, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openSessions()
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(list) == 0 {
		cmd.Println("No pending sessions.")
		return nil
	}

	cmd.Printf("Pending sessions (%d):\n", len(list))
	for _, s := range list {
		age := time.Since(s.CreatedAt).Round(time.Second)
		cmd.Printf("- id: %s | owner: %s | file: %s | candidates: %d | age: %s\n",
			s.ListMessageID, s.Owner, s.Attachment.Filename, len(s.Candidates), age)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := openSessions()
	if err != nil {
		return err
	}
	defer store.Close()

	s, err := store.Get(context.Background(), args[0])
	if errors.Is(err, selection.ErrSessionNotFound) {
		return fmt.Errorf("no session %q", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}

	out, err := json.MarshalIndent(viewOf(s), "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := openSessions()
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.Delete(context.Background(), args[0])
	if errors.Is(err, selection.ErrSessionNotFound) {
		return fmt.Errorf("no session %q", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	cmd.Printf("Deleted session %s.\n", args[0])
	return nil
}
