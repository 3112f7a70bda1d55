package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/h1v3-io/talktome/internal/config"
	"github.com/h1v3-io/talktome/internal/talk"
	"github.com/h1v3-io/talktome/internal/ticket"
	"github.com/h1v3-io/talktome/internal/workflow"
	"github.com/h1v3-io/talktome/pkg/protocol"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "workflow":
		if len(args) < 1 {
			fatalf("usage: talktomectl workflow <validate|show|preview|resolve>")
		}
		switch args[0] {
		case "validate":
			cmdWorkflowValidate(os.Stdout, args[1:])
		case "show":
			cmdWorkflowShow(os.Stdout, args[1:])
		case "preview":
			cmdWorkflowPreview(os.Stdout, args[1:])
		case "resolve":
			cmdWorkflowResolve(os.Stdout, args[1:])
		default:
			fatalf("unknown workflow subcommand: %s", args[0])
		}
	case "tickets":
		if len(args) < 1 {
			fatalf("usage: talktomectl tickets <add|comment|list|show>")
		}
		switch args[0] {
		case "add":
			cmdTicketsAdd(args[1:])
		case "comment":
			cmdTicketsComment(args[1:])
		case "list":
			cmdTicketsList(os.Stdout, args[1:])
		case "show":
			cmdTicketsShow(os.Stdout, args[1:])
		default:
			fatalf("unknown tickets subcommand: %s", args[0])
		}
	case "config":
		if len(args) < 2 || args[0] != "validate" {
			fatalf("usage: talktomectl config validate <path>")
		}
		cmdConfigValidate(args[1])
	case "health":
		cmdHealth()
	case "workflows":
		cmdWorkflows()
	case "sweep":
		if len(args) < 1 {
			fatalf("usage: talktomectl sweep <label>")
		}
		cmdSweep(args[0])
	case "logs":
		cmdLogs(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- workflow commands (offline) ---

func cmdWorkflowValidate(w io.Writer, args []string) {
	if len(args) == 0 {
		fatalf("usage: talktomectl workflow validate <file|glob>...")
	}
	failed := false
	var all []*workflow.Tree
	for _, pattern := range args {
		trees, err := workflow.LoadDir(pattern)
		if err != nil {
			fmt.Fprintf(w, "invalid: %v\n", err)
			failed = true
			continue
		}
		if len(trees) == 0 {
			fmt.Fprintf(w, "no files match %s\n", pattern)
			failed = true
			continue
		}
		all = append(all, trees...)
		for _, t := range trees {
			fmt.Fprintf(w, "ok      %-20s %d actions\n", t.Label, len(t.ActionIDs()))
			if dups := t.Duplicates(); len(dups) > 0 {
				fmt.Fprintf(w, "warning %-20s duplicate action ids: %s\n", t.Label, strings.Join(dups, ", "))
			}
		}
	}
	// Labels must be unique across all files.
	reg, err := workflow.NewRegistry(all...)
	if err != nil {
		fmt.Fprintf(w, "invalid: %v\n", err)
		failed = true
	} else {
		fmt.Fprintf(w, "%d workflows\n", reg.Len())
	}
	if failed {
		os.Exit(1)
	}
}

func cmdWorkflowShow(w io.Writer, args []string) {
	if len(args) != 1 {
		fatalf("usage: talktomectl workflow show <file>")
	}
	tree := mustLoad(args[0])
	fmt.Fprintf(w, "label:    %s\n", tree.Label)
	fmt.Fprintf(w, "search:   %s\n", orDash(tree.Search))
	fmt.Fprintf(w, "schedule: %s\n\n", orDash(tree.Schedule))
	printStep(w, tree.Root, "")
}

func printStep(w io.Writer, s *workflow.Step, indent string) {
	fmt.Fprintf(w, "%s[%s] %s\n", indent, s.Kind, oneLine(s.Message))
	if s.Kind == workflow.KindUpdate {
		b, _ := json.Marshal(s.Update)
		fmt.Fprintf(w, "%s  update: %s\n", indent, b)
	}
	for _, c := range s.Choices {
		fmt.Fprintf(w, "%s  - %s (%q)\n", indent, c.ActionID, c.Label)
		printStep(w, c.Step, indent+"      ")
	}
}

func cmdWorkflowPreview(w io.Writer, args []string) {
	fs := pflag.NewFlagSet("workflow preview", pflag.ExitOnError)
	ticketID := fs.String("ticket", "1", "Ticket ID")
	username := fs.String("user", "jdoe", "Assigned username")
	ref := fs.String("ref", "000000", "Reference code (barcode)")
	description := fs.String("description", "", "Ticket description to match instead of --user/--ref")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fatalf("usage: talktomectl workflow preview <file> [--ticket --user --ref | --description]")
	}
	tree := mustLoad(fs.Arg(0))

	t := protocol.Ticket{ID: *ticketID, Username: *username, ReferenceCode: *ref, Status: protocol.TicketOpen}
	if *description != "" {
		u, r, ok := talk.ParseDescription(*description)
		if !ok {
			fatalf("description does not name a user and a reference code")
		}
		t.Username, t.ReferenceCode = u, r
	}
	printOutbound(w, talk.PlanFirstContact(t, tree))
}

func cmdWorkflowResolve(w io.Writer, args []string) {
	fs := pflag.NewFlagSet("workflow resolve", pflag.ExitOnError)
	ticketID := fs.String("ticket", "1", "Ticket ID the button was bound to")
	fs.Parse(args)
	if fs.NArg() != 2 {
		fatalf("usage: talktomectl workflow resolve <file> <action_id> [--ticket id]")
	}
	tree := mustLoad(fs.Arg(0))

	action := protocol.Action{
		ActionID:   fs.Arg(1),
		TicketRef:  *ticketID,
		ChannelID:  "preview",
		MessageRef: "preview",
		Workflow:   tree.Label,
	}
	resp, err := talk.PlanResponse(action, tree)
	if err != nil {
		fatalf("%v", err)
	}
	for _, eff := range resp.Effects {
		if eff.Kind == talk.EffectSend {
			printOutbound(w, eff.Message)
		}
	}
	if len(resp.Effects) == 1 {
		fmt.Fprintln(w, "(end of dialog, buttons removed)")
	}
	if resp.Update != nil {
		b, _ := json.Marshal(resp.Update.Payload)
		fmt.Fprintf(w, "update ticket %s: %s\n", resp.Update.TicketID, b)
	}
}

func printOutbound(w io.Writer, msg protocol.OutboundMessage) {
	fmt.Fprintln(w, msg.Text)
	for _, b := range msg.Buttons {
		fmt.Fprintf(w, "  [%s] action=%s value=%s\n", b.Label, b.ActionID, b.Value)
	}
}

// --- tickets commands (local SQLite helpdesk) ---

func openStore(fs *pflag.FlagSet, args []string) (*ticket.SQLiteStore, *pflag.FlagSet) {
	db := fs.String("db", envOr("TALKTOME_DB_PATH", "talktome.db"), "SQLite helpdesk database")
	fs.Parse(args)
	store, err := ticket.NewSQLiteStore(*db, envOr("TALKTOME_BOT_AUTHOR", config.DefaultBotAuthor), nil)
	if err != nil {
		fatalf("%v", err)
	}
	return store, fs
}

func cmdTicketsAdd(args []string) {
	fs := pflag.NewFlagSet("tickets add", pflag.ExitOnError)
	id := fs.String("id", "", "Ticket ID (required)")
	subject := fs.String("subject", "", "Subject")
	description := fs.String("description", "", "Description, e.g. \"barcode 123 assigned_to jdoe\"")
	status := fs.String("status", string(protocol.TicketOpen), "Status")
	tags := fs.StringSlice("tags", nil, "Comma-separated tags")
	store, _ := openStore(fs, args)
	defer store.Close()

	if *id == "" {
		fatalf("--id is required")
	}
	err := store.Save(context.Background(), protocol.RawTicket{
		ID:          *id,
		Subject:     *subject,
		Description: *description,
		Status:      protocol.TicketStatus(*status),
		Tags:        *tags,
	})
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("ticket %s saved\n", *id)
}

func cmdTicketsComment(args []string) {
	fs := pflag.NewFlagSet("tickets comment", pflag.ExitOnError)
	author := fs.String("author", "", "Comment author (required)")
	store, fs := openStore(fs, args)
	defer store.Close()

	if fs.NArg() != 2 || *author == "" {
		fatalf("usage: talktomectl tickets comment <id> <body> --author name")
	}
	err := store.AddComment(context.Background(), fs.Arg(0), protocol.Comment{Author: *author, Body: fs.Arg(1)})
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("comment added to %s\n", fs.Arg(0))
}

func cmdTicketsList(w io.Writer, args []string) {
	fs := pflag.NewFlagSet("tickets list", pflag.ExitOnError)
	query := fs.String("query", "", "Helpdesk query, e.g. \"status:open tags:remediation\"")
	limit := fs.Int("limit", 50, "Max results")
	store, _ := openStore(fs, args)
	defer store.Close()

	f := ticket.ParseQuery(*query)
	f.Limit = *limit
	records, err := store.List(context.Background(), f)
	if err != nil {
		fatalf("%v", err)
	}
	for _, r := range records {
		fmt.Fprintf(w, "%-10s %-8s %-24s %s\n", r.ID, r.Status, strings.Join(r.Tags, ","), oneLine(r.Description))
	}
}

func cmdTicketsShow(w io.Writer, args []string) {
	fs := pflag.NewFlagSet("tickets show", pflag.ExitOnError)
	store, fs := openStore(fs, args)
	defer store.Close()
	if fs.NArg() != 1 {
		fatalf("usage: talktomectl tickets show <id>")
	}

	ctx := context.Background()
	rec, err := store.Get(ctx, fs.Arg(0))
	if err != nil {
		fatalf("%v", err)
	}
	comments, err := store.Comments(ctx, rec.ID)
	if err != nil {
		fatalf("%v", err)
	}
	out, _ := json.MarshalIndent(struct {
		*ticket.Record
		Comments []protocol.Comment `json:"comments"`
	}{rec, comments}, "", "  ")
	fmt.Fprintln(w, string(out))
}

func cmdConfigValidate(path string) {
	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- API client commands ---

func cmdHealth() {
	body, err := apiDo(http.MethodGet, "/api/health")
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Println(string(body))
}

func cmdWorkflows() {
	body, err := apiDo(http.MethodGet, "/api/workflows")
	if err != nil {
		fatalf("%v", err)
	}
	var wfs []map[string]any
	json.Unmarshal(body, &wfs)
	for _, wf := range wfs {
		fmt.Printf("%-20s %-12v %-26v %v\n", wf["label"], wf["schedule"], orDash(fmt.Sprint(wf["next_sweep"])), wf["search"])
	}
}

func cmdSweep(label string) {
	body, err := apiDo(http.MethodPost, "/api/workflows/"+url.PathEscape(label)+"/sweep")
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdLogs(args []string) {
	fs := pflag.NewFlagSet("logs", pflag.ExitOnError)
	level := fs.String("level", "", "Minimum level (debug|info|warn|error)")
	wf := fs.String("workflow", "", "Only entries of this workflow")
	limit := fs.Int("limit", 100, "Max entries")
	since := fs.Duration("since", 0, "Only entries newer than this, e.g. 15m")
	fs.Parse(args)

	q := url.Values{"limit": {strconv.Itoa(*limit)}}
	if *level != "" {
		q.Set("level", *level)
	}
	if *wf != "" {
		q.Set("workflow", *wf)
	}
	if *since > 0 {
		q.Set("since", strconv.FormatInt(time.Now().Add(-*since).UnixMilli(), 10))
	}

	body, err := apiDo(http.MethodGet, "/api/logs?"+q.Encode())
	if err != nil {
		fatalf("%v", err)
	}
	var entries []struct {
		Time    time.Time      `json:"time"`
		Level   string         `json:"level"`
		Message string         `json:"message"`
		Attrs   map[string]any `json:"attrs"`
	}
	json.Unmarshal(body, &entries)
	for _, e := range entries {
		attrs, _ := json.Marshal(e.Attrs)
		if e.Attrs == nil {
			attrs = nil
		}
		fmt.Printf("%s %-5s %s %s\n", e.Time.Local().Format(time.TimeOnly), e.Level, e.Message, attrs)
	}
}

// --- Helpers ---

func apiDo(method, path string) ([]byte, error) {
	base := strings.TrimSuffix(envOr("TALKTOME_API_URL", "http://localhost:8080"), "/")

	req, err := http.NewRequest(method, base+path, nil)
	if err != nil {
		return nil, err
	}
	if key := os.Getenv("TALKTOME_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func mustLoad(path string) *workflow.Tree {
	tree, err := workflow.LoadFile(path)
	if err != nil {
		fatalf("%v", err)
	}
	return tree
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 72 {
		return s[:69] + "..."
	}
	return s
}

func orDash(s string) string {
	if s == "" || s == "<nil>" {
		return "-"
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Println("talktomectl - workflow and daemon CLI")
	fmt.Println()
	fmt.Println("Offline commands:")
	fmt.Println("  workflow validate <file|glob>...       Load workflow files and report problems")
	fmt.Println("  workflow show <file>                   Print the dialog tree")
	fmt.Println("  workflow preview <file>                Render the first message (--ticket, --user, --ref, --description)")
	fmt.Println("  workflow resolve <file> <action_id>    Show what a button press leads to (--ticket)")
	fmt.Println("  tickets add|comment|list|show          Manage the local SQLite helpdesk (--db)")
	fmt.Println("  config validate <path>                 Validate a config file")
	fmt.Println()
	fmt.Println("Daemon commands:")
	fmt.Println("  health                                 Check daemon health")
	fmt.Println("  workflows                              List loaded workflows")
	fmt.Println("  sweep <label>                          Run a sweep now")
	fmt.Println("  logs                                   Show recent logs (--level, --workflow, --limit, --since)")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  TALKTOME_API_URL   Daemon URL (default: http://localhost:8080)")
	fmt.Println("  TALKTOME_API_KEY   API key for authentication")
	fmt.Println("  TALKTOME_DB_PATH   Local helpdesk database (default: talktome.db)")
}
