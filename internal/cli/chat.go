package cli

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harun/companion/internal/daemon"
	"github.com/harun/companion/pkg/mediator"
	"github.com/spf13/cobra"
)

var (
	chatOwner     string
	chatSession   string
	chatMessage   string
	chatImage     string
	chatImageMIME string
	chatRoute     string
	chatJSON      bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant from the terminal",
	Long: `Chat with the assistant without starting the gateway.
With --message a single turn is sent and the reply printed. Without it,
each line read from stdin is sent as a turn of the same session.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatOwner, "owner", "", "owner id the session belongs to (required)")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "existing session id to continue")
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "single message to send")
	chatCmd.Flags().StringVar(&chatImage, "image", "", "image file to attach to the message")
	chatCmd.Flags().StringVar(&chatImageMIME, "mime", "", "attachment MIME type (default from config)")
	chatCmd.Flags().StringVar(&chatRoute, "route", "", "route the user is currently on")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "print the full result as JSON")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(chatOwner) == "" {
		return fmt.Errorf("--owner is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// No transport runs in this mode
	cfg.Gateway.Enabled = false
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer log.Close()

	core, err := daemon.NewCore(cfg, log.Zerolog())
	if err != nil {
		return err
	}

	attachment, err := readAttachment(chatImage, chatImageMIME)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	sessionID := chatSession

	send := func(message string) error {
		result, err := core.Mediator.Chat(ctx, mediator.ChatRequest{
			OwnerID:    chatOwner,
			Message:    message,
			SessionID:  sessionID,
			Route:      chatRoute,
			Attachment: attachment,
		})
		if err != nil {
			return err
		}
		// Only the first turn carries the attachment
		attachment = nil
		sessionID = result.SessionID
		return printResult(out, result)
	}

	if chatMessage != "" {
		return send(chatMessage)
	}

	return chatLoop(ctx, cmd.InOrStdin(), out, send)
}

// chatLoop sends every non-empty input line until EOF or cancellation
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, send func(string) error) error {
	scanner := bufio.NewScanner(in)
	for {
		if !chatJSON {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := send(line); err != nil {
			// A failed turn does not end the conversation
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func readAttachment(path, mimeType string) (*mediator.Attachment, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return &mediator.Attachment{
		DataBase64: base64.StdEncoding.EncodeToString(data),
		MIMEType:   mimeType,
	}, nil
}

func printResult(out io.Writer, result *mediator.ChatResult) error {
	if chatJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintln(out, result.Reply)
	fmt.Fprintf(out, "[session %s, model %s]\n", result.SessionID, result.Model)
	return nil
}
