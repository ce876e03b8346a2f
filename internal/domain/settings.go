package domain

// Settings holds the durable process-wide settings shared by every board.
type Settings struct {
	AgentName string `json:"agentName"`
	APIKey    string `json:"apiKey,omitempty"`
	Model     string `json:"model,omitempty"`
}

// DefaultAgentName is used until a display name is configured.
const DefaultAgentName = "Agent"

// Redacted returns a copy safe for broadcast: the credential is masked,
// only its presence is revealed.
func (s Settings) Redacted() Settings {
	out := s
	if out.APIKey != "" {
		out.APIKey = "********"
	}
	return out
}
