package llm

import (
	"fmt"
	"os"
	"strings"
	"text/template"
)

// DefaultPromptTemplate joins the persona and the instructions document.
const DefaultPromptTemplate = `{{.Persona}}
{{- if .Instructions}}

Contexto adicional:
{{.Instructions}}
{{- end}}`

// PromptData is the input of a system prompt template.
type PromptData struct {
	Persona      string
	Instructions string
}

// Prompt renders system prompts from a template.
type Prompt struct {
	tmpl *template.Template
	data PromptData
}

// NewPrompt parses tmpl (DefaultPromptTemplate if empty) and renders it once
// to surface execution errors early.
func NewPrompt(tmpl string, data PromptData) (*Prompt, error) {
	if tmpl == "" {
		tmpl = DefaultPromptTemplate
	}
	t, err := template.New("system").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("llm: parse prompt template: %w", err)
	}
	p := &Prompt{tmpl: t, data: data}
	if _, err := p.Render(); err != nil {
		return nil, err
	}
	return p, nil
}

// Render executes the template.
func (p *Prompt) Render() (string, error) {
	var sb strings.Builder
	if err := p.tmpl.Execute(&sb, p.data); err != nil {
		return "", fmt.Errorf("llm: render prompt: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// LoadInstructions reads the instructions document at path. An empty path
// yields no instructions.
func LoadInstructions(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("llm: load instructions: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
