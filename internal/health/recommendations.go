package health

// Condition names a detected maintenance condition.
type Condition string

// Maintenance conditions with canned recommendations.
const (
	ConditionPhaseCurrentHigh      Condition = "phase_current_high"
	ConditionPhaseCurrentImbalance Condition = "phase_current_imbalance"
	ConditionControllerVoltageLow  Condition = "controller_voltage_low"
	ConditionTransitionTimeHigh    Condition = "transition_time_high"
	ConditionGeneralWear           Condition = "general_wear"
)

var recommendations = map[Condition][]string{
	ConditionPhaseCurrentHigh: {
		"Check the mechanical load on the motor",
		"Inspect moving parts for wear",
		"Check lubrication of mechanical components",
	},
	ConditionPhaseCurrentImbalance: {
		"Verify the power supply connections",
		"Check the condition of contactors and relays",
		"Check the integrity of the power cables",
	},
	ConditionControllerVoltageLow: {
		"Verify the controller power supply",
		"Check the controller connections",
		"Measure connector resistance",
	},
	ConditionTransitionTimeHigh: {
		"Check the mechanical travel path for obstructions",
		"Check the alignment of moving components",
		"Check the limit switch adjustment",
	},
	ConditionGeneralWear: {
		"Schedule a detailed visual inspection",
		"Check wear on critical components",
		"Check the tightness of mechanical fasteners",
	},
}

// RecommendationsFor returns the recommendations for a condition. Unknown
// conditions get the general wear list.
func RecommendationsFor(c Condition) []string {
	list, ok := recommendations[c]
	if !ok {
		list = recommendations[ConditionGeneralWear]
	}
	return append([]string(nil), list...)
}
