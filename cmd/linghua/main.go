package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/user"
	"strings"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists.
	_ = godotenv.Load()

	ctx := context.Background()

	fs := flag.NewFlagSet("linghua", flag.ExitOnError)
	workspaceFlag := fs.String("workspace", "", "Root directory for session workspaces (default: ./workspace)")
	pluginsFlag := fs.String("plugins", "", "Directory scanned for shell plugins (default: ~/.ye-linghua/plugins)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	env, err := prepareRuntimeEnv(ctx, *workspaceFlag, *pluginsFlag)
	if err != nil {
		log.Fatalf("failed to prepare runtime environment: %v", err)
	}
	defer env.Close()

	if err := runREPL(ctx, env); err != nil {
		log.Fatalf("repl failed: %v", err)
	}
}

func currentUserID() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}

// runREPL reads lines from stdin and routes each one into the current
// chat session. Slash commands manage the session lifecycle:
//
//	/new     start a fresh session
//	/cancel  cancel the session's in-flight run
//	/quit    complete the session and exit
func runREPL(ctx context.Context, env *runtimeEnv) error {
	userID := currentUserID()

	sessionID, err := env.Service.CreateSession(ctx, userID)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	fmt.Printf("Linghua ready (model: %s). Type /quit to exit.\n", env.Model)

	s := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !s.Scan() {
			break
		}
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit":
			if err := env.Service.CompleteSession(ctx, sessionID); err != nil {
				log.Printf("completing session: %v", err)
			}
			return s.Err()

		case "/new":
			if err := env.Service.CompleteSession(ctx, sessionID); err != nil {
				log.Printf("completing session: %v", err)
			}
			sessionID, err = env.Service.CreateSession(ctx, userID)
			if err != nil {
				return fmt.Errorf("creating session: %w", err)
			}
			fmt.Println("Started a new session.")
			continue

		case "/cancel":
			if env.Service.CancelSession(sessionID) {
				fmt.Println("Cancellation requested.")
			} else {
				fmt.Println("No live session to cancel.")
			}
			continue
		}

		answer, err := env.Service.SendMessage(ctx, sessionID, userID, line)
		if err != nil {
			log.Printf("error: %v", err)
			continue
		}
		fmt.Printf("linghua> %s\n\n", answer)
	}
	return s.Err()
}
