package deployment

import "fmt"

const (
	// Latest chart and provider versions this console deploys.
	DefaultChartVersion    = "11.6.0"
	DefaultProviderVersion = "v0.6.10"

	namespace = "akash-services"
)

// DefaultPlan builds the provider upgrade sequence: refresh the chart
// repo, install the current pricing script, upgrade the operator charts,
// upgrade the provider chart with the script wired in, then confirm the
// pods come back. Helm upgrades compensate with helm rollback; the final
// pod check has no compensation and fails the run outright.
func DefaultPlan(chartVersion, providerVersion, scriptVersion string) Plan {
	if chartVersion == "" {
		chartVersion = DefaultChartVersion
	}
	if providerVersion == "" {
		providerVersion = DefaultProviderVersion
	}

	return Plan{
		ChartVersion:    chartVersion,
		ProviderVersion: providerVersion,
		ScriptVersion:   scriptVersion,
		Steps: []Step{
			{
				Name: "repo-update",
				Kind: KindRemote,
				Script: "helm repo add akash https://akash-network.github.io/helm-charts >/dev/null 2>&1; " +
					"helm repo update akash",
				Compensatable: true,
			},
			{
				Name:          "refresh-price-script",
				Kind:          KindPriceScript,
				Compensatable: true,
			},
			{
				Name: "upgrade-operators",
				Kind: KindRemote,
				Script: fmt.Sprintf(
					"helm -n %[1]s upgrade akash-hostname-operator akash/akash-hostname-operator --set image.tag=%[2]s && "+
						"helm -n %[1]s upgrade inventory-operator akash/akash-inventory-operator --set image.tag=%[2]s",
					namespace, providerVersion),
				Compensation: fmt.Sprintf(
					"helm -n %[1]s rollback akash-hostname-operator; helm -n %[1]s rollback inventory-operator",
					namespace),
				Compensatable: true,
			},
			{
				Name: "upgrade-provider",
				Kind: KindRemote,
				Script: fmt.Sprintf(
					"helm upgrade akash-provider akash/provider -n %s -f ~/provider/provider.yaml --version %s "+
						`--set bidpricescript="$(cat ~/provider/price_script_generic.sh | openssl base64 -A)"`,
					namespace, chartVersion),
				Compensation:  fmt.Sprintf("helm -n %s rollback akash-provider", namespace),
				Compensatable: true,
			},
			{
				Name: "verify-pods",
				Kind: KindRemote,
				Script: fmt.Sprintf(
					"kubectl wait --for=condition=Ready pods --all -n %s --timeout=120s", namespace),
				Compensatable: false,
			},
		},
	}
}
