package pipeline

import (
	"time"

	"github.com/neuralmesh/orchestrator/internal/bus"
	"github.com/neuralmesh/orchestrator/pb"
)

// telemetryEcho is the broadcast form of a streamed simulation occurrence.
type telemetryEcho struct {
	Kind         string    `json:"kind"`
	NPCID        string    `json:"npcId,omitempty"`
	Description  string    `json:"description,omitempty"`
	Catastrophic bool      `json:"catastrophic"`
	Attribute    string    `json:"attribute,omitempty"`
	Value        float64   `json:"value,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// HandleTelemetry dispatches one streamed item: breakdowns and traumas go to
// rebellion-alerts, state changes to npc-events, catastrophic items are also
// echoed to system-status, and an infestation_level attribute change updates
// the risk supervisor.
func (c *Coordinator) HandleTelemetry(item *pb.TelemetryItem) {
	echo := telemetryEcho{
		Kind:         item.Kind,
		NPCID:        item.NPCID,
		Description:  item.Description,
		Catastrophic: item.Catastrophic,
		Attribute:    item.Attribute,
		Value:        item.Value,
		Timestamp:    time.Now().UTC(),
	}

	switch item.Kind {
	case pb.TelemetryMentalBreakdown, pb.TelemetryPermanentTrauma:
		c.publisher.Publish(bus.ChannelRebellionAlerts, echo)
	case pb.TelemetryAttributeChange:
		if item.Attribute == "infestation_level" {
			c.supervisor.SetLevel(int(item.Value))
			if c.metrics != nil {
				c.metrics.InfestationLevel.Set(float64(c.supervisor.Level()))
			}
		}
		c.publisher.Publish(bus.ChannelSimulationTicks, echo)
	default:
		c.publisher.Publish(bus.ChannelNPCEvents, echo)
	}

	if item.Catastrophic {
		c.publisher.Publish(bus.ChannelSystemStatus, echo)
	}
}
