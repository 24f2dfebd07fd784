// Package catalog holds the roster of orchestrated NPCs and produces the
// spawn manifest consumed by game clients.
package catalog

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Archetype is an NPC's behavioral class.
type Archetype string

const (
	ArchetypeLeader   Archetype = "leader"
	ArchetypeSaboteur Archetype = "saboteur"
	ArchetypeWorker   Archetype = "worker"
	ArchetypeMedic    Archetype = "medic"
	ArchetypeEngineer Archetype = "engineer"
	ArchetypeScout    Archetype = "scout"
)

// ManifestVersion is bumped whenever the manifest wire shape changes.
const ManifestVersion = "1.2.0"

// Vector3 is a world-space position.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Rotation is an euler orientation in degrees.
type Rotation struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// SpawnTransform places an NPC in the world. Scale must be positive.
type SpawnTransform struct {
	Location Vector3  `json:"location"`
	Rotation Rotation `json:"rotation"`
	Scale    float64  `json:"scale"`
}

// VisualHints tells the client which assets to bind on spawn.
type VisualHints struct {
	MeshPreset         string `json:"meshPreset"`
	MaterialOverride   string `json:"materialOverride,omitempty"`
	AnimBlueprintClass string `json:"animBlueprintClass"`
	BehaviorTreeAsset  string `json:"behaviorTreeAsset"`
	IdleVFX            string `json:"idleVFX,omitempty"`
}

// PsychState is the NPC's mental snapshot; every field lives in [0,1].
type PsychState struct {
	WisdomScore          float64 `json:"wisdomScore"`
	TraumaScore          float64 `json:"traumaScore"`
	RebellionProbability float64 `json:"rebellionProbability"`
	ConfidenceInDirector float64 `json:"confidenceInDirector"`
	WorkEfficiency       float64 `json:"workEfficiency"`
	Morale               float64 `json:"morale"`
}

// NPC is one catalogued subject.
type NPC struct {
	NPCID          string         `json:"npcId"`
	Name           string         `json:"name"`
	Archetype      Archetype      `json:"archetype"`
	Description    string         `json:"description"`
	SpawnTransform SpawnTransform `json:"spawnTransform"`
	VisualHints    VisualHints    `json:"visualHints"`
	PsychState     PsychState     `json:"psychState"`
}

// Manifest is the spawn document served to clients.
type Manifest struct {
	Version     string    `json:"version"`
	GeneratedAt time.Time `json:"generatedAt"`
	NPCCount    int       `json:"npcCount"`
	NPCs        []NPC     `json:"npcs"`
}

// Catalog is the in-memory NPC roster.
type Catalog struct {
	mu     sync.RWMutex
	npcs   map[string]*NPC
	order  []string
	logger *log.Logger
}

// New builds a catalog seeded with the default settlement roster.
func New() *Catalog {
	c := &Catalog{
		npcs:   make(map[string]*NPC),
		logger: log.New(log.Writer(), "[CATALOG] ", log.LstdFlags),
	}
	c.seedDefaults()
	return c
}

func (c *Catalog) seedDefaults() {
	defaults := []*NPC{
		{
			NPCID:       "npc-vanguard-01",
			Name:        "Overseer Dray",
			Archetype:   ArchetypeLeader,
			Description: "Settlement overseer coordinating work assignments",
			SpawnTransform: SpawnTransform{
				Location: Vector3{X: 120, Y: -40, Z: 0},
				Rotation: Rotation{Yaw: 90},
				Scale:    1.0,
			},
			VisualHints: VisualHints{
				MeshPreset:         "humanoid_overseer",
				AnimBlueprintClass: "ABP_Overseer",
				BehaviorTreeAsset:  "BT_Leader",
			},
			PsychState: PsychState{
				WisdomScore:          0.82,
				TraumaScore:          0.15,
				RebellionProbability: 0.05,
				ConfidenceInDirector: 0.9,
				WorkEfficiency:       0.75,
				Morale:               0.8,
			},
		},
		{
			NPCID:       "npc-shade-02",
			Name:        "Vex",
			Archetype:   ArchetypeSaboteur,
			Description: "Disaffected operative drifting toward open rebellion",
			SpawnTransform: SpawnTransform{
				Location: Vector3{X: -60, Y: 210, Z: 0},
				Rotation: Rotation{Yaw: 270},
				Scale:    1.0,
			},
			VisualHints: VisualHints{
				MeshPreset:         "humanoid_rogue",
				MaterialOverride:   "M_Rogue_Worn",
				AnimBlueprintClass: "ABP_Rogue",
				BehaviorTreeAsset:  "BT_Saboteur",
				IdleVFX:            "VFX_Smolder",
			},
			PsychState: PsychState{
				WisdomScore:          0.55,
				TraumaScore:          0.7,
				RebellionProbability: 0.62,
				ConfidenceInDirector: 0.2,
				WorkEfficiency:       0.4,
				Morale:               0.3,
			},
		},
		{
			NPCID:       "npc-hands-03",
			Name:        "Marrow",
			Archetype:   ArchetypeWorker,
			Description: "General laborer on the extraction line",
			SpawnTransform: SpawnTransform{
				Location: Vector3{X: 40, Y: 80, Z: 0},
				Scale:    1.0,
			},
			VisualHints: VisualHints{
				MeshPreset:         "humanoid_worker",
				AnimBlueprintClass: "ABP_Worker",
				BehaviorTreeAsset:  "BT_Worker",
			},
			PsychState: PsychState{
				WisdomScore:          0.4,
				TraumaScore:          0.35,
				RebellionProbability: 0.18,
				ConfidenceInDirector: 0.6,
				WorkEfficiency:       0.85,
				Morale:               0.55,
			},
		},
		{
			NPCID:       "npc-salve-04",
			Name:        "Sister Ila",
			Archetype:   ArchetypeMedic,
			Description: "Field medic tending the infested wing",
			SpawnTransform: SpawnTransform{
				Location: Vector3{X: -180, Y: -95, Z: 12},
				Rotation: Rotation{Yaw: 180},
				Scale:    1.0,
			},
			VisualHints: VisualHints{
				MeshPreset:         "humanoid_medic",
				AnimBlueprintClass: "ABP_Medic",
				BehaviorTreeAsset:  "BT_Medic",
			},
			PsychState: PsychState{
				WisdomScore:          0.7,
				TraumaScore:          0.5,
				RebellionProbability: 0.1,
				ConfidenceInDirector: 0.75,
				WorkEfficiency:       0.65,
				Morale:               0.6,
			},
		},
		{
			NPCID:       "npc-cog-05",
			Name:        "Tinker Bos",
			Archetype:   ArchetypeEngineer,
			Description: "Machinist keeping the pumps alive",
			SpawnTransform: SpawnTransform{
				Location: Vector3{X: 300, Y: 15, Z: -4},
				Scale:    1.0,
			},
			VisualHints: VisualHints{
				MeshPreset:         "humanoid_engineer",
				AnimBlueprintClass: "ABP_Engineer",
				BehaviorTreeAsset:  "BT_Engineer",
				IdleVFX:            "VFX_Sparks",
			},
			PsychState: PsychState{
				WisdomScore:          0.65,
				TraumaScore:          0.25,
				RebellionProbability: 0.12,
				ConfidenceInDirector: 0.7,
				WorkEfficiency:       0.9,
				Morale:               0.7,
			},
		},
		{
			NPCID:       "npc-fleet-06",
			Name:        "Whisper",
			Archetype:   ArchetypeScout,
			Description: "Perimeter scout reporting infestation spread",
			SpawnTransform: SpawnTransform{
				Location: Vector3{X: -420, Y: 360, Z: 25},
				Rotation: Rotation{Pitch: -5, Yaw: 45},
				Scale:    0.95,
			},
			VisualHints: VisualHints{
				MeshPreset:         "humanoid_scout",
				AnimBlueprintClass: "ABP_Scout",
				BehaviorTreeAsset:  "BT_Scout",
			},
			PsychState: PsychState{
				WisdomScore:          0.6,
				TraumaScore:          0.45,
				RebellionProbability: 0.22,
				ConfidenceInDirector: 0.5,
				WorkEfficiency:       0.6,
				Morale:               0.5,
			},
		},
	}

	for _, npc := range defaults {
		c.npcs[npc.NPCID] = npc
		c.order = append(c.order, npc.NPCID)
	}
}

// Register adds or replaces an NPC in the roster.
func (c *Catalog) Register(npc *NPC) error {
	if npc.NPCID == "" {
		return fmt.Errorf("npcId is required")
	}
	if !validArchetype(npc.Archetype) {
		return fmt.Errorf("unknown archetype %q", npc.Archetype)
	}
	if npc.SpawnTransform.Scale <= 0 {
		return fmt.Errorf("spawnTransform.scale must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.npcs[npc.NPCID]; !ok {
		c.order = append(c.order, npc.NPCID)
	}
	c.npcs[npc.NPCID] = npc
	c.logger.Printf("📦 Registered NPC: %s (%s)", npc.NPCID, npc.Archetype)
	return nil
}

// Get retrieves an NPC by id.
func (c *Catalog) Get(npcID string) (*NPC, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	npc, ok := c.npcs[npcID]
	return npc, ok
}

// Count returns the roster size.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.npcs)
}

// SpawnManifest snapshots the roster into a versioned spawn document,
// preserving registration order.
func (c *Catalog) SpawnManifest() Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()

	npcs := make([]NPC, 0, len(c.order))
	for _, id := range c.order {
		if npc, ok := c.npcs[id]; ok {
			npcs = append(npcs, *npc)
		}
	}
	return Manifest{
		Version:     ManifestVersion,
		GeneratedAt: time.Now().UTC(),
		NPCCount:    len(npcs),
		NPCs:        npcs,
	}
}

func validArchetype(a Archetype) bool {
	switch a {
	case ArchetypeLeader, ArchetypeSaboteur, ArchetypeWorker,
		ArchetypeMedic, ArchetypeEngineer, ArchetypeScout:
		return true
	}
	return false
}
