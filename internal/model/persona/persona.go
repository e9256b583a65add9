package persona

// PreambleRole is the chat role the fixed opening turn is sent with.
type PreambleRole string

const (
	RoleSystem    PreambleRole = "system"
	RoleAssistant PreambleRole = "assistant"
)

// Persona captures the assistant profile a conversation is bound to: the fixed preamble
// sent ahead of every user turn, the greeting shown when the conversation opens and the
// model identifier requested from the completion endpoint.
type Persona struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Language     string       `json:"language"`
	Model        string       `json:"model,omitempty"`
	PreambleRole PreambleRole `json:"preambleRole"`
	Preamble     string       `json:"preamble"`
	Greeting     string       `json:"greeting,omitempty"`
}

// Role returns the preamble role, defaulting to system.
func (p Persona) Role() PreambleRole {
	if p.PreambleRole == RoleAssistant {
		return RoleAssistant
	}
	return RoleSystem
}

// Seed provides the built-in personas.
func Seed() []Persona {
	return []Persona{
		{
			ID:           "francais",
			Name:         "Assistant francophone",
			Language:     "fr-FR",
			PreambleRole: RoleAssistant,
			Preamble:     "Bonjour! Je suis un assistant amical qui répond toujours en français. Comment puis-je vous aider?",
			Greeting:     "Bonjour! Comment puis-je vous aider?",
		},
		{
			ID:           "assistant",
			Name:         "Assistant",
			Language:     "en-US",
			PreambleRole: RoleSystem,
			Preamble:     "You are a friendly, concise assistant running on the user's own machine.",
			Greeting:     "Hello! How can I help you today?",
		},
	}
}
