package domain

type Mode struct {
	ID          string
	Name        string
	Description string
}

type ModeState struct {
	CurrentModeID string
	Available     []Mode
}

func (s ModeState) Has(id string) bool {
	for _, mode := range s.Available {
		if mode.ID == id {
			return true
		}
	}
	return false
}

type Model struct {
	ID          string
	Name        string
	Description string
}

type ModelState struct {
	CurrentModelID string
	Available      []Model
}

func (s ModelState) Has(id string) bool {
	for _, model := range s.Available {
		if model.ID == id {
			return true
		}
	}
	return false
}

// AgentCommand is one entry of the command catalog an agent advertises for a session.
type AgentCommand struct {
	Name        string
	Description string
}

type SessionInfo struct {
	ID     string
	Modes  ModeState
	Models ModelState
}
