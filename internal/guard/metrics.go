package guard

import "github.com/smallbiznis/admin-guard/internal/obs"

func recordDecision(name, outcome string) {
	obs.GuardDecision(name, outcome)
}
