// Package advisors provides the rule-based equipment validator and the cost
// estimators used by the assignment workflow.
//
// EquipmentInspector checks equipment type compatibility and derives a 0-100
// health score from candidate attributes. RateCostEstimator prices a load from
// its distance and the candidate's rate per mile. ScriptCostEstimator runs a
// Starlark script so pricing rules can change without a rebuild:
//
//	base = target["attributes"]["distance_miles"] * candidate["attributes"].get("rate_per_mile", 2.1)
//	fuel = base * 0.18
//	cost = base + fuel
//	estimated = "rate_per_mile" not in candidate["attributes"]
package advisors
