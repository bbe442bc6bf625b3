package agent

// Builtin returns the assistant's agents. schedule maps an agent name to
// its cron expression; an empty result leaves the agent on-demand.
func Builtin(schedule func(name string) string) []Agent {
	if schedule == nil {
		schedule = func(string) string { return "" }
	}
	return []Agent{
		NewChat(),
		NewBriefing(schedule("briefing")),
		NewActionItems(schedule("action_item")),
		NewConsolidator(schedule("memory")),
		NewAnomalies(schedule("anomaly")),
	}
}
