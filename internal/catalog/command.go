package catalog

import "fmt"

// Command types accepted on the NPC command surface.
const (
	CommandMoveTo      = "move_to"
	CommandStop        = "stop"
	CommandLookAt      = "look_at"
	CommandPlayMontage = "play_montage"
)

// Movement modes for move_to commands.
var movementModes = map[string]bool{
	"walk":   true,
	"run":    true,
	"sprint": true,
	"crouch": true,
}

// CommandPayload carries the per-type command parameters. Optional fields
// are pointers so absence is distinguishable from the zero value.
type CommandPayload struct {
	TargetLocation   *Vector3 `json:"targetLocation,omitempty"`
	MovementMode     string   `json:"movementMode,omitempty"`
	AcceptanceRadius *float64 `json:"acceptanceRadius,omitempty"`
	InterruptMontage *bool    `json:"interruptMontage,omitempty"`
	MontageName      string   `json:"montageName,omitempty"`
	PlayRate         *float64 `json:"playRate,omitempty"`
}

// Command is one directive aimed at a catalogued NPC.
type Command struct {
	CommandID   string         `json:"commandId"`
	NPCID       string         `json:"npcId"`
	CommandType string         `json:"commandType"`
	Payload     CommandPayload `json:"payload"`
	Priority    int            `json:"priority,omitempty"`
}

// Validate checks the command against the per-type payload schema.
func (c *Command) Validate() error {
	if c.CommandID == "" {
		return fmt.Errorf("commandId is required")
	}
	if c.NPCID == "" {
		return fmt.Errorf("npcId is required")
	}

	switch c.CommandType {
	case CommandMoveTo:
		if c.Payload.TargetLocation == nil {
			return fmt.Errorf("move_to requires payload.targetLocation")
		}
		if c.Payload.MovementMode != "" && !movementModes[c.Payload.MovementMode] {
			return fmt.Errorf("unknown movementMode %q", c.Payload.MovementMode)
		}
	case CommandStop:
		// interruptMontage is optional; nothing else is accepted.
	case CommandLookAt:
		if c.Payload.TargetLocation == nil {
			return fmt.Errorf("look_at requires payload.targetLocation")
		}
	case CommandPlayMontage:
		if c.Payload.MontageName == "" {
			return fmt.Errorf("play_montage requires payload.montageName")
		}
	default:
		return fmt.Errorf("unknown commandType %q", c.CommandType)
	}
	return nil
}
