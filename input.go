package miroflow

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// fileTypeByExtension maps a lowercase file extension to the human-readable
// type named in the advisory note.
var fileTypeByExtension = map[string]string{
	"jpg": "Image", "jpeg": "Image", "png": "Image", "gif": "Image", "webp": "Image",
	"txt":  "Text",
	"json": "Json", "jsonld": "Json",
	"xlsx": "Excel", "xls": "Excel",
	"pdf":  "PDF",
	"docx": "Document", "doc": "Document",
	"html": "HTML", "htm": "HTML",
	"pptx": "PPT", "ppt": "PPT",
	"wav": "WAV",
	"mp3": "MP3", "m4a": "MP3",
	"zip": "Zip",
}

// ProcessInput prepares the initial user content for a task. When a file is
// associated, the task description gains an advisory note naming the file
// type so the model reaches for the applicable tools; PDF files also get a
// page count when the file is readable.
func ProcessInput(taskDescription, taskFileName string) (Message, string, error) {
	updated := taskDescription

	if taskFileName != "" {
		if _, err := os.Stat(taskFileName); err != nil {
			return Message{}, "", fmt.Errorf("task file not found: %s", taskFileName)
		}
		ext := ""
		if i := strings.LastIndex(taskFileName, "."); i >= 0 {
			ext = strings.ToLower(taskFileName[i+1:])
		}
		fileType := fileTypeByExtension[ext]
		if fileType == "" {
			fileType = ext
		}

		detail := ""
		if fileType == "PDF" {
			if pages := pdfPageCount(taskFileName); pages > 0 {
				detail = fmt.Sprintf(" (%d pages)", pages)
			}
		}

		updated += fmt.Sprintf(
			"\nNote: A %s file '%s'%s is associated with this task. You should use available tools to read its content if necessary through %s. Additionally, if you need to analyze this file by Linux commands or python codes, you should upload it to the sandbox first. Files in the sandbox cannot be accessed by other tools.\n\n",
			fileType, taskFileName, detail, taskFileName)
	}

	return UserMessage(updated), updated, nil
}

// pdfPageCount returns the page count of a PDF file, or 0 when the file
// cannot be parsed. A broken PDF only costs the advisory detail.
func pdfPageCount(path string) (pages int) {
	defer func() {
		if recover() != nil {
			pages = 0
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	return r.NumPage()
}

var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// HistoryTurn is one prior conversation turn used to build a continuation
// prompt for multi-turn sessions.
type HistoryTurn struct {
	UserText      string
	AssistantText string
}

// toBlockquote prefixes every line of text with a markdown blockquote
// marker, deepening existing quote levels by one.
func toBlockquote(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			lines = append(lines, ">")
			continue
		}
		trimmed := line
		level := 0
		for strings.HasPrefix(strings.TrimLeft(trimmed, " "), ">") {
			trimmed = strings.TrimPrefix(strings.TrimLeft(trimmed, " "), ">")
			level++
		}
		if level > 0 {
			content := strings.TrimLeft(trimmed, " ")
			if content == "" {
				lines = append(lines, strings.Repeat(">", level+1))
			} else {
				lines = append(lines, strings.Repeat(">", level+1)+" "+content)
			}
		} else {
			lines = append(lines, "> "+line)
		}
	}
	return strings.Join(lines, "\n")
}

// MakeMultiTurnPrompt renders prior turns as quoted context ahead of the
// current task so a fresh session continues an earlier conversation.
// Assistant thinking tags are stripped from the rendered history.
func MakeMultiTurnPrompt(history []HistoryTurn, taskDescription string) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("---\n\n")
	b.WriteString("There has been a conversation with the user. Please continue the conversation.\n\n")
	for i, turn := range history {
		user := strings.TrimSpace(thinkTagRe.ReplaceAllString(turn.UserText, ""))
		assistant := strings.TrimSpace(thinkTagRe.ReplaceAllString(turn.AssistantText, ""))
		fmt.Fprintf(&b, "- Turn %d\n\n", i+1)
		fmt.Fprintf(&b, "User Prompt:\n\n%s\n\n", toBlockquote(user))
		fmt.Fprintf(&b, "Assistant:\n\n%s\n\n", toBlockquote(assistant))
	}
	b.WriteString("- Below is the user's prompt on this turn:\n\n")
	b.WriteString(taskDescription + "\n\n")
	b.WriteString("---\n\n")
	return b.String()
}
