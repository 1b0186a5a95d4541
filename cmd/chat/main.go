// Command chat is a terminal client: it joins one thread, prints live events
// and sends every line typed on stdin.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"

	"hire-chat/client"
	"hire-chat/domain"
	"hire-chat/domain/event"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

type Config struct {
	ServerURL    string `envconfig:"CHAT_SERVER_URL" default:"http://localhost:8080"`
	Token        string `envconfig:"CHAT_TOKEN" required:"true"`
	UserID       string `envconfig:"CHAT_USER_ID" required:"true"`
	ThreadID     string `envconfig:"CHAT_THREAD_ID" required:"true"`
	HistoryLimit int    `envconfig:"CHAT_HISTORY_LIMIT" default:"30"`
	LogLevel     string `envconfig:"CHAT_LOG_LEVEL" default:"WARN"`
	Colours      bool   `envconfig:"CHAT_COLOURS" default:"true"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chat terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	color.Enable = cfg.Colours
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	threadID := domain.ThreadID(cfg.ThreadID)
	session := client.NewSession(client.Config{
		SocketURL:    socketURL(cfg.ServerURL),
		Token:        cfg.Token,
		UserID:       domain.UserID(cfg.UserID),
		HistoryLimit: cfg.HistoryLimit,
	}, client.NewHistory(cfg.ServerURL, cfg.Token, nil), log)

	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	if err := session.Join(ctx, threadID); err != nil {
		return exitRuntime, fmt.Errorf("opening thread %s: %w", threadID, err)
	}
	printTimeline(session.Timeline(threadID))
	go printEvents(session.Events(), domain.UserID(cfg.UserID))

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return exitOK, <-done
		case err := <-done:
			if err != nil {
				return exitRuntime, err
			}
			return exitOK, nil
		case line, ok := <-lines:
			if !ok {
				stop()
				continue
			}
			if err := handle(ctx, session, threadID, strings.TrimSpace(line)); err != nil {
				color.Red.Println(err.Error())
			}
		}
	}
}

// handle runs a "/command" or sends the line as a message.
func handle(ctx context.Context, session *client.Session, threadID domain.ThreadID, line string) error {
	switch line {
	case "":
		return nil
	case "/older":
		added, hasMore, err := session.LoadOlder(ctx, threadID)
		if err != nil {
			return err
		}
		color.Gray.Printf("%d older messages loaded, more: %t\n", added, hasMore)
		return nil
	case "/timeline":
		printTimeline(session.Timeline(threadID))
		return nil
	case "/who":
		color.Gray.Printf("online: %v\n", session.Members(threadID))
		return nil
	case "/typing":
		return session.Typing(threadID, true)
	case "/retry":
		for _, r := range session.Timeline(threadID) {
			if r.Status != client.Failed {
				continue
			}
			if err := session.Resend(threadID, r.TempID); err != nil {
				return err
			}
		}
		return nil
	}
	_, err := session.Send(threadID, line, nil)
	return err
}

func printEvents(events <-chan event.Event, me domain.UserID) {
	for e := range events {
		switch evt := e.(type) {
		case event.MessageNew:
			color.Cyan.Printf("%s ", evt.CreatedAt.Local().Format("15:04"))
			fmt.Printf("%s: %s\n", color.Bold.Render(string(evt.SenderID)), evt.Body)
		case event.MessageAck:
			color.Gray.Printf("sent %s\n", evt.ID)
		case event.TypingChanged:
			if evt.IsTyping {
				color.Gray.Printf("%s is typing...\n", evt.UserID)
			}
		case event.PresenceChanged:
			state := color.Green.Render("online")
			if !evt.Online {
				state = color.Yellow.Render("offline")
			}
			fmt.Printf("%s is %s\n", evt.UserID, state)
		case event.ReadReceipt:
			color.Gray.Printf("%d messages read\n", len(evt.MessageIDs))
		case event.Joined:
			if evt.Closed {
				color.Yellow.Println("This conversation is closed, it is read only")
			}
		case event.ThreadClosed:
			color.Yellow.Println("The conversation was closed")
		case event.Error:
			color.Red.Printf("%s: %s\n", evt.Code, evt.Message)
		}
	}
}

func printTimeline(records []client.Record) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"At", "From", "Status", "Body"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	for _, r := range records {
		at := "--:--"
		if r.Status == client.Confirmed {
			at = r.Message.CreatedAt.Local().Format("15:04")
		}
		status := r.Status.String()
		if r.Status == client.Confirmed && r.Message.IsRead {
			status = "read"
		}
		table.Append([]string{at, string(r.Message.SenderID), status, r.Message.Body})
	}
	table.Render()
}

func socketURL(serverURL string) string {
	serverURL = strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://") + "/ws"
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://") + "/ws"
	}
	return serverURL + "/ws"
}
