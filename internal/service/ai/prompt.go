package ai

import (
	"strings"

	"github.com/zhouzirui/agent-playground/internal/model/agent"
)

// BuildSystemPrompt renders an agent definition into its system message.
func BuildSystemPrompt(a agent.Agent) string {
	var b strings.Builder

	name := a.Name
	if name == "" {
		name = a.ID
	}
	b.WriteString("You are ")
	b.WriteString(name)
	b.WriteString(".")

	if a.Role != "" {
		b.WriteString("\n\nYour role: ")
		b.WriteString(a.Role)
	}
	if a.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(a.Description)
	}

	if instructions := strings.TrimSpace(a.Instructions); instructions != "" {
		b.WriteString("\n\n## Instructions\n")
		for _, line := range strings.Split(instructions, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				b.WriteString("- ")
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
	}

	if a.Markdown {
		b.WriteString("\nUse markdown to format your answers.")
	}

	return strings.TrimRight(b.String(), "\n")
}
