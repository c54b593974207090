package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Parth354/COT-Geospatial/internal/api"
	"github.com/Parth354/COT-Geospatial/internal/app"
	"github.com/Parth354/COT-Geospatial/internal/state"
)

var (
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	answerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// runChat drives the interactive loop: read a line, hand it to the facade,
// render store snapshots as the stream arrives.
func runChat(ctx context.Context, a *app.App) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("connecting to backend: %w", err)
	}
	fmt.Println(headerStyle.Render("geochat — geospatial analysis chat"))
	fmt.Println(subtleStyle.Render("Type a question, or /help for commands."))

	go renderLoop(ctx, a)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("you> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := handleCommand(ctx, a, line); quit {
				return nil
			}
			continue
		}
		if _, err := a.SubmitQuery(ctx, line); err != nil {
			fmt.Println(errStyle.Render("✗ " + err.Error()))
		}
	}
}

// renderLoop prints new chat content as snapshots arrive. It tracks what has
// been printed so each fragment renders once, in dispatch order.
func renderLoop(ctx context.Context, a *app.App) {
	seenMsgs := 0
	seenParts := map[string]map[string]bool{}
	lastSummary := ""

	for snap := range a.Store.Subscribe(ctx) {
		for _, m := range snap.Job.Messages[min(seenMsgs, len(snap.Job.Messages)):] {
			if m.Role == state.RoleUser {
				continue
			}
			if m.Text != "" {
				fmt.Println(noticeStyle.Render("• " + m.Text))
			}
		}
		if len(snap.Job.Messages) < seenMsgs {
			// Chat was cleared; start over.
			seenParts = map[string]map[string]bool{}
		}
		seenMsgs = len(snap.Job.Messages)

		for _, m := range snap.Job.Messages {
			if m.Role != state.RoleAssistant || m.JobID == "" {
				continue
			}
			printed := seenParts[m.ID]
			if printed == nil {
				printed = map[string]bool{}
				seenParts[m.ID] = printed
			}
			keys := make([]string, 0, len(m.Parts))
			for k := range m.Parts {
				if !printed[k] {
					keys = append(keys, k)
				}
			}
			sort.Strings(keys)
			for _, k := range keys {
				printed[k] = true
				fmt.Println(stepStyle.Render(fmt.Sprintf("  [%s] %v", k, renderPart(m.Parts[k]))))
			}
		}

		if snap.Job.Status == state.JobCompleted && snap.Job.Summary != "" && snap.Job.Summary != lastSummary {
			lastSummary = snap.Job.Summary
			fmt.Println(answerStyle.Render("assistant> " + snap.Job.Summary))
		}
	}
}

func renderPart(v any) string {
	if m, ok := v.(map[string]any); ok {
		if c, ok := m["content"].(string); ok {
			return c
		}
		if msg, ok := m["message"].(string); ok {
			return msg
		}
	}
	return fmt.Sprintf("%v", v)
}

func handleCommand(ctx context.Context, a *app.App, line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Println(subtleStyle.Render(strings.Join([]string{
			"/upload <path>      upload a dataset",
			"/datasets           list datasets",
			"/delete <id>        delete a dataset",
			"/retry <id>         retry a failed ingestion",
			"/map <id>           add a dataset to the map",
			"/layers             list map layers",
			"/toggle <layer>     toggle layer visibility",
			"/clear              clear chat",
			"/quit               exit",
		}, "\n")))
	case "/upload":
		if len(fields) < 2 {
			fmt.Println(errStyle.Render("usage: /upload <path>"))
			return false
		}
		uploadFile(ctx, a, fields[1])
	case "/datasets":
		if err := a.RefreshDatasets(ctx); err != nil {
			fmt.Println(errStyle.Render("✗ " + err.Error()))
		}
		for _, d := range a.Store.State().UI.Datasets {
			fmt.Printf("  %s  %-24s %-10s %s\n", d.DatasetID, d.Name, d.FileType, d.Status)
		}
	case "/delete":
		if len(fields) < 2 {
			fmt.Println(errStyle.Render("usage: /delete <id>"))
			return false
		}
		if err := a.DeleteDataset(ctx, fields[1]); err != nil {
			fmt.Println(errStyle.Render("✗ " + err.Error()))
		}
	case "/retry":
		if len(fields) < 2 {
			fmt.Println(errStyle.Render("usage: /retry <id>"))
			return false
		}
		if err := a.RetryIngestion(ctx, fields[1]); err != nil {
			fmt.Println(errStyle.Render("✗ " + err.Error()))
		}
	case "/map":
		if len(fields) < 2 {
			fmt.Println(errStyle.Render("usage: /map <dataset-id>"))
			return false
		}
		if err := a.AddDatasetLayer(fields[1]); err != nil {
			fmt.Println(errStyle.Render("✗ " + err.Error()))
		}
	case "/layers":
		for i, l := range a.Store.State().UI.Layers {
			vis := "hidden"
			if l.Visible {
				vis = "visible"
			}
			fmt.Printf("  %d. %s  %-24s %s\n", i+1, l.LayerID, l.Name, vis)
		}
	case "/toggle":
		if len(fields) < 2 {
			fmt.Println(errStyle.Render("usage: /toggle <layer-id>"))
			return false
		}
		a.ToggleLayer(fields[1])
	case "/clear":
		a.ClearChat()
	default:
		fmt.Println(errStyle.Render("unknown command " + fields[0]))
	}
	return false
}

func uploadFile(ctx context.Context, a *app.App, path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Println(errStyle.Render("✗ " + err.Error()))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		fmt.Println(errStyle.Render("✗ " + err.Error()))
		return
	}

	ds, err := a.UploadDataset(ctx, info.Name(), info.Size(), f,
		api.UploadMetadata{Name: info.Name()}, nil)
	if err != nil {
		fmt.Println(errStyle.Render("✗ " + err.Error()))
		return
	}
	fmt.Println(answerStyle.Render("✓ uploaded " + ds.Name + " (" + ds.DatasetID + ")"))
}
