package reconciler

import (
	"fmt"

	"github.com/wardenhq/warden/pkg/types"
)

// stateFlags is the in-game permission tuple for one lifecycle state
type stateFlags struct {
	building       bool
	buildingDamage bool
	pvp            bool
}

// flagsFor maps lifecycle states to their permission tuples. White and
// green are fully permissive; yellow freezes damage and PvP for the grace
// period; red re-enables PvP while structures stay protected.
func flagsFor(state types.ZoneState) stateFlags {
	switch state {
	case types.ZoneStateYellow:
		return stateFlags{building: true, buildingDamage: false, pvp: false}
	case types.ZoneStateRed:
		return stateFlags{building: false, buildingDamage: false, pvp: true}
	default: // white, green
		return stateFlags{building: true, buildingDamage: true, pvp: true}
	}
}

// commandsFor returns the full, fixed configuration batch for a state:
// building flag, building-damage flag, PvP flag, color. Always all four,
// never a diff, so re-applying heals any partially-applied prior attempt.
func commandsFor(zone *types.Zone, state types.ZoneState) []string {
	f := flagsFor(state)
	return []string{
		editCommand(zone.ID, "allowbuilding", boolArg(f.building)),
		editCommand(zone.ID, "allowbuildingdamage", boolArg(f.buildingDamage)),
		editCommand(zone.ID, "pvpgoddamage", boolArg(!f.pvp)),
		editCommand(zone.ID, "color", fmt.Sprintf("(%s)", zone.Colors.ForState(state))),
	}
}

// createCommand provisions the zone sphere on the game server
func createCommand(zone *types.Zone) string {
	return fmt.Sprintf(`zones.createcustomzone %q (%g,%g,%g) %g`,
		zone.ID, zone.Position.X, zone.Position.Y, zone.Position.Z, zone.Radius)
}

// removeCommand tears the zone sphere down
func removeCommand(zone *types.Zone) string {
	return fmt.Sprintf("zones.removecustomzone %q", zone.ID)
}

func editCommand(zoneID, field, value string) string {
	return fmt.Sprintf("zones.editcustomzone %q %s %s", zoneID, field, value)
}

func boolArg(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
