package llms

type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

type Turn struct {
	Role    TurnRole
	Content string
}

func UserTurn(content string) Turn {
	return Turn{Role: TurnRoleUser, Content: content}
}

func AssistantTurn(content string) Turn {
	return Turn{Role: TurnRoleAssistant, Content: content}
}
