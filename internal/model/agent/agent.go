package agent

// Agent describes one agent hosted by the playground.
type Agent struct {
	ID           string   `json:"agent_id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Role         string   `json:"role,omitempty" yaml:"role"`
	Description  string   `json:"description,omitempty" yaml:"description"`
	Instructions string   `json:"instructions,omitempty" yaml:"instructions"`
	Model        string   `json:"model,omitempty" yaml:"model"`
	Markdown     bool     `json:"markdown" yaml:"markdown"`
	Tools        []string `json:"tools,omitempty" yaml:"tools"`
}

// Seed provides the agents served when no registry file is configured.
func Seed() []Agent {
	return []Agent{
		{
			ID:           "claude-agent",
			Name:         "Claude Agent",
			Description:  "General purpose assistant.",
			Instructions: "Answer the user's question clearly and concisely.",
			Markdown:     true,
			Tools:        []string{"duckduckgo"},
		},
		{
			ID:           "giphy-agent",
			Name:         "Giphy Agent",
			Role:         "Find relevant GIFs",
			Instructions: "Find relevant and appropriate GIFs related to the query.",
			Markdown:     true,
			Tools:        []string{"giphy"},
		},
		{
			ID:           "github-code-agent",
			Name:         "GitHub Code Agent",
			Role:         "Find code examples on GitHub",
			Instructions: "Review the repository the user points at and answer questions about it.",
			Markdown:     true,
			Tools:        []string{"github"},
		},
		{
			ID:           "bedrock-agent",
			Name:         "BedRockAgent",
			Description:  "Plain model access without tools.",
			Instructions: "You are a helpful assistant.",
		},
	}
}
