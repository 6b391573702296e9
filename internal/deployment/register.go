package deployment

import "go.temporal.io/sdk/worker"

func RegisterWorkflowsAndActivities(w worker.Worker, activities *Activities) {
	w.RegisterWorkflow(DeployProviderWorkflow)
	w.RegisterActivity(activities.CheckRelease)
	w.RegisterActivity(activities.RunStep)
	w.RegisterActivity(activities.RefreshPriceScript)
	w.RegisterActivity(activities.RestorePriceScript)
	w.RegisterActivity(activities.RecordRun)
}
