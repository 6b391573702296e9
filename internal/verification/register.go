package verification

import "go.temporal.io/sdk/worker"

func RegisterWorkflowsAndActivities(w worker.Worker, activities *Activities) {
	w.RegisterWorkflow(VerifyProviderWorkflow)
	w.RegisterActivity(activities.CheckConnectivity)
	w.RegisterActivity(activities.CheckChainSync)
	w.RegisterActivity(activities.CheckGPUInventory)
	w.RegisterActivity(activities.CheckPriceScript)
	w.RegisterActivity(activities.RecordReport)
}
