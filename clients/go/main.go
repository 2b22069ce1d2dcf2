// Ephemera CLI - command line client for the Ephemera relay
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eldtechnologies/ephemera/clients/go/ephemera"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("EPHEMERA_URL")
	client := ephemera.NewClient(baseURL)
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "capabilities":
		resp, err := client.Capabilities()
		exitOnError(err)
		printJSON(resp)

	case "chat":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: ephemera chat <name> <peer>")
			os.Exit(1)
		}
		exitOnError(chat(client, os.Args[2], os.Args[3]))

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// chat joins as name and exchanges messages with peer until stdin closes
// or the process is interrupted.
func chat(client *ephemera.Client, name, peer string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := client.Join(ctx, name)
	if err != nil {
		return err
	}
	defer session.Close()

	go func() {
		for {
			env, err := session.Next()
			if err != nil {
				stop()
				return
			}
			render(env)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Printf("Joined as %s, chatting with %s. Type /file <path> to send a file, Ctrl-D to quit.\n", name, peer)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := sendLine(session, peer, line); err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
			}
		}
	}
}

func sendLine(session *ephemera.Session, peer, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if path, ok := strings.CutPrefix(line, "/file "); ok {
		path = strings.TrimSpace(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return session.SendFile(peer, path, data)
	}
	return session.SendText(peer, line)
}

func render(env *ephemera.Envelope) {
	switch env.Event {
	case ephemera.EventDeliver:
		var m ephemera.Message
		if env.Decode(&m) != nil {
			return
		}
		ts := time.UnixMilli(m.CreatedAt).Format("15:04:05")
		body := m.Content
		if m.Filename != "" {
			body = fmt.Sprintf("[%s %s, %d bytes]", m.Kind, m.Filename, m.SizeBytes)
		}
		switch {
		case m.WasBlocked:
			reason := m.BlockReason
			if len(m.ThreatTokens) > 0 {
				reason += ": " + strings.Join(m.ThreatTokens, ", ")
			}
			fmt.Printf("[%s] you: %s (blocked for recipient, %s)\n", ts, body, reason)
		case m.IsSystem:
			fmt.Printf("[%s] * %s\n", ts, m.Content)
		case m.IsOwn:
			fmt.Printf("[%s] you: %s  {%s}\n", ts, body, shortID(m.ID))
		default:
			fmt.Printf("[%s] %s: %s  {%s}\n", ts, m.From, body, shortID(m.ID))
		}

	case ephemera.EventDeleted:
		var d ephemera.Deleted
		if env.Decode(&d) == nil {
			fmt.Printf("  {%s} expired\n", shortID(d.ID))
		}

	case ephemera.EventPresenceUpdate:
		var p ephemera.Presence
		if env.Decode(&p) == nil {
			fmt.Printf("  online: %s\n", strings.Join(p.Users, ", "))
		}

	case ephemera.EventUploadProgress:
		var p ephemera.Progress
		if env.Decode(&p) == nil {
			fmt.Printf("  %s is sending %s: %.0f%%\n", p.From, p.Filename, p.Percent)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

func usage() {
	fmt.Println(`Ephemera CLI - ephemeral private messaging

Usage: ephemera <command> [options]

Commands:
  chat <name> <peer>      Join as <name> and chat with <peer>
  capabilities            Show server features
  health                  Check server health

Environment:
  EPHEMERA_URL  Server URL (default: http://localhost:3001)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
