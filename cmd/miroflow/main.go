// Command miroflow inspects persisted task-run state files.
//
// Usage:
//
//	miroflow show <task.json>             print a run overview to stdout
//	miroflow report -o x.html <task.json> render a full HTML report
//
// Flags go before the task file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	miroflow "github.com/MiroMindAI/MiroFlow"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "show":
		err = runShow(os.Args[2:])
	case "report":
		err = runReport(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "miroflow:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: miroflow <show|report> <task.json> [flags]")
}

func loadState(path string) (miroflow.TaskState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return miroflow.TaskState{}, err
	}
	var state miroflow.TaskState
	if err := json.Unmarshal(data, &state); err != nil {
		return miroflow.TaskState{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return state, nil
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	steps := fs.Bool("steps", false, "include the full step log")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("show: expected one task state file")
	}
	state, err := loadState(fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Printf("Task:        %s\n", state.TaskID)
	fmt.Printf("Status:      %s\n", state.Status)
	fmt.Printf("Started:     %s\n", state.StartTime.Format("2006-01-02 15:04:05"))
	if !state.EndTime.IsZero() {
		fmt.Printf("Finished:    %s (%s)\n", state.EndTime.Format("2006-01-02 15:04:05"),
			state.EndTime.Sub(state.StartTime).Round(1e9))
	}
	fmt.Printf("Boxed:       %s\n", state.FinalBoxedAnswer)
	fmt.Printf("Main turns:  %d messages\n", len(state.MainHistory.MessageHistory))
	fmt.Printf("Sub agents:  %d sessions\n", len(state.SubHistorySessions))
	fmt.Printf("Steps:       %d logged\n", len(state.StepLogs))
	if state.Error != "" {
		fmt.Printf("Error:       %s\n", state.Error)
	}

	if *steps {
		fmt.Println()
		for _, s := range state.StepLogs {
			fmt.Printf("  [%-7s] %-40s %s\n", s.Status, s.StepName, truncateLine(s.Message, 100))
		}
	}
	return nil
}

func truncateLine(s string, n int) string {
	for i := range s {
		if s[i] == '\n' {
			s = s[:i]
			break
		}
	}
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func runReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	out := fs.String("o", "report.html", "output HTML file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("report: expected one task state file")
	}
	state, err := loadState(fs.Arg(0))
	if err != nil {
		return err
	}

	html, err := renderReport(state)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, html, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", *out)
	return nil
}
