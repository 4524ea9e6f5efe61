package template

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"chatalert/internal/domain/alert"
)

var _ alert.TitleRenderer = (*Engine)(nil)

// maxTitleLen bounds rendered titles; hosts truncate long titles anyway.
const maxTitleLen = 120

// titleData is what title templates can reference.
type titleData struct {
	Sender string
}

// Engine renders alert titles from a text/template.
type Engine struct {
	title *template.Template
}

// NewEngine parses the title template.
func NewEngine(titleTemplate string) (*Engine, error) {
	if strings.TrimSpace(titleTemplate) == "" {
		return nil, fmt.Errorf("title template is empty")
	}

	tmpl, err := template.New("title").Option("missingkey=error").Parse(titleTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing title template: %w", err)
	}

	return &Engine{title: tmpl}, nil
}

// RenderTitle produces the alert title for senderLabel.
func (e *Engine) RenderTitle(senderLabel string) (string, error) {
	sender := collapseSpace(senderLabel)
	if sender == "" {
		sender = "someone"
	}

	var buf bytes.Buffer
	if err := e.title.Execute(&buf, titleData{Sender: sender}); err != nil {
		return "", fmt.Errorf("executing title template: %w", err)
	}

	title := collapseSpace(buf.String())
	if r := []rune(title); len(r) > maxTitleLen {
		title = string(r[:maxTitleLen])
	}
	return title, nil
}

// collapseSpace trims s and collapses internal whitespace runs to one space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
