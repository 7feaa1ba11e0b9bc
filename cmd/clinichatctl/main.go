package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/clinichat/internal/api"
	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/matheus3301/clinichat/internal/client"
	"github.com/matheus3301/clinichat/internal/jid"
	"github.com/matheus3301/clinichat/internal/lock"
	"github.com/matheus3301/clinichat/internal/media"
	"github.com/matheus3301/clinichat/internal/tenant"
	"github.com/matheus3301/clinichat/internal/wa"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var tenantName string

func main() {
	tenantFlag := flag.String("tenant", "", "tenant name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	tenantName = tenant.Resolve(*tenantFlag)
	if err := tenant.ValidateName(tenantName); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := client.New(tenant.SocketPath(tenantName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for tenant %q: %v\n", tenantName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	// Streaming commands run until interrupted.
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(sigCtx, 10*time.Second)
	defer cancel()

	out := output{json: *jsonFlag}
	switch cmd, rest := args[0], args[1:]; cmd {
	case "status":
		cmdStatus(ctx, c, out)
	case "auth":
		cmdAuth(sigCtx, c, out)
	case "logout":
		check(c.Logout(ctx))
		fmt.Println("Logged out. Run auth to pair again.")
	case "chats":
		cmdChats(ctx, c, out, false)
	case "refresh":
		cmdChats(ctx, c, out, true)
	case "open":
		need(rest, 1, "open <phone|jid>")
		printThread(out)(c.Open(ctx, rest[0]))
	case "more":
		printThread(out)(c.LoadMore(ctx))
	case "messages":
		printThread(out)(c.Messages(ctx))
	case "send":
		need(rest, 1, "send <text>")
		printThread(out)(c.SendText(ctx, strings.Join(rest, " ")))
	case "send-media":
		need(rest, 2, "send-media <image|video|audio|document> <file> [caption]")
		cmdSendMedia(ctx, c, out, rest)
	case "read":
		need(rest, 1, "read <phone|jid>")
		check(c.MarkRead(ctx, rest[0]))
	case "close":
		check(c.CloseThread(ctx))
	case "watch":
		cmdWatch(sigCtx, c, out, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: clinichatctl [--tenant <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                         Show daemon status")
	fmt.Fprintln(os.Stderr, "  auth                           Pair with WhatsApp by QR code")
	fmt.Fprintln(os.Stderr, "  logout                         Unlink this device")
	fmt.Fprintln(os.Stderr, "  chats                          List conversations")
	fmt.Fprintln(os.Stderr, "  refresh                        Reload and list conversations")
	fmt.Fprintln(os.Stderr, "  open <phone|jid>               Open a conversation")
	fmt.Fprintln(os.Stderr, "  more                           Load older messages")
	fmt.Fprintln(os.Stderr, "  messages                       Show the open conversation")
	fmt.Fprintln(os.Stderr, "  send <text>                    Send text to the open conversation")
	fmt.Fprintln(os.Stderr, "  send-media <kind> <file> [cap] Send an attachment")
	fmt.Fprintln(os.Stderr, "  read <phone|jid>               Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  close                          Close the open conversation")
	fmt.Fprintln(os.Stderr, "  watch [prefix...]              Stream daemon events")
}

type output struct {
	json bool
}

func cmdStatus(ctx context.Context, c *client.Client, out output) {
	resp, err := c.Status(ctx)
	check(err)
	if out.json {
		outputJSON(resp)
		return
	}
	fmt.Printf("Tenant:   %s\n", resp.Tenant)
	fmt.Printf("Status:   %s (since %s)\n", resp.Status, stamp(time.UnixMilli(resp.StatusSinceMs)))
	if resp.PhoneNumber != "" {
		fmt.Printf("Phone:    %s\n", jid.FormatPhone(resp.PhoneNumber))
	}
	fmt.Printf("Chats:    %d\n", resp.ChatCount)
	fmt.Printf("Messages: %d\n", resp.MessageCount)
	fmt.Printf("Contacts: %d\n", resp.ContactCount)
	if resp.Active != "" {
		fmt.Printf("Open:     %s (feed %s)\n", resp.Active, resp.Feed)
	}
	fmt.Printf("Uptime:   %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
}

func cmdAuth(ctx context.Context, c *client.Client, out output) {
	stream, err := c.StartAuth(ctx)
	check(err)
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		check(err)
		if out.json {
			outputJSON(evt)
			continue
		}
		switch wa.AuthEventType(evt.Type) {
		case wa.AuthEventQRCode:
			fmt.Print("\033[H\033[2J")
			fmt.Println("Scan with WhatsApp > Linked devices:")
			fmt.Println()
			fmt.Print(renderQR(evt.QRCode))
		case wa.AuthEventAuthenticated:
			fmt.Println("Authenticated.")
		default:
			fmt.Printf("Pairing ended: %s\n", evt.Message)
		}
	}
}

func cmdChats(ctx context.Context, c *client.Client, out output, refresh bool) {
	var (
		convs []chat.Conversation
		err   error
	)
	if refresh {
		convs, err = c.Refresh(ctx)
	} else {
		convs, err = c.Conversations(ctx, false)
	}
	check(err)
	if out.json {
		outputJSON(convs)
		return
	}
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for i := range convs {
		conv := &convs[i]
		flags := ""
		if conv.Pinned {
			flags += "*"
		}
		if conv.Muted {
			flags += "~"
		}
		unread := ""
		if conv.UnreadCount > 0 {
			unread = fmt.Sprintf("(%d)", conv.UnreadCount)
		}
		fmt.Printf("%-2s %-24s %-5s %-16s %s\n", flags, jid.DisplayName(conv), unread, stamp(conv.LastMessageAt), conv.LastMessage)
	}
}

func cmdSendMedia(ctx context.Context, c *client.Client, out output, args []string) {
	kind := chat.MessageType(args[0])
	data, err := os.ReadFile(args[1])
	check(err)
	name := filepath.Base(args[1])
	check(media.Validate(media.FromBytes(name, data), kind))
	printThread(out)(c.SendMedia(ctx, &api.SendMediaRequest{
		Kind:     kind,
		FileName: name,
		Data:     data,
		Caption:  strings.Join(args[2:], " "),
	}))
}

func cmdWatch(ctx context.Context, c *client.Client, out output, prefixes []string) {
	stream, err := c.Watch(ctx, prefixes...)
	check(err)
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return
		}
		check(err)
		if out.json {
			outputJSON(evt)
			continue
		}
		fmt.Printf("%s %-22s %s\n", time.UnixMilli(evt.OccurredAtUnixMs).Format("15:04:05"), evt.Kind, evt.Payload)
	}
}

func printThread(out output) func(*api.ThreadResponse, error) {
	return func(resp *api.ThreadResponse, err error) {
		check(err)
		if out.json {
			outputJSON(resp)
			return
		}
		if resp.JID == "" {
			fmt.Println("No conversation open.")
			return
		}
		fmt.Printf("%s\n\n", resp.JID)
		if resp.HasMore {
			fmt.Println("  ... older messages available (more)")
		}
		for i := range resp.Messages {
			m := &resp.Messages[i]
			who := m.SenderName
			if m.FromMe {
				who = "me"
			} else if who == "" {
				who = jid.FormatPhone(jid.ToPhone(m.SenderJID))
			}
			mark := ""
			switch {
			case m.Status == chat.StatusFailed:
				mark = " [failed]"
			case m.Pending():
				mark = " [sending]"
			}
			fmt.Printf("%s %s: %s%s\n", stamp(m.Timestamp), who, jid.Preview(m), mark)
		}
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: clinichatctl %s\n", usage)
		os.Exit(1)
	}
}

func check(err error) {
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	s, ok := status.FromError(err)
	if !ok {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "error: %s\n", s.Message())
	if s.Code() == codes.Unavailable {
		daemonHint()
	}
	os.Exit(1)
}

// daemonHint explains an unreachable daemon from the tenant lock.
func daemonHint() {
	dir := tenant.Dir(tenantName)
	h, err := lock.Inspect(dir)
	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "hint: no daemon running for tenant %q; start clinichatd --tenant %s\n", tenantName, tenantName)
	case !lock.Held(dir):
		fmt.Fprintf(os.Stderr, "hint: stale lock left by %s; start clinichatd --tenant %s\n", h, tenantName)
	default:
		fmt.Fprintf(os.Stderr, "hint: daemon %s is not answering on %s\n", h, tenant.SocketPath(tenantName))
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
