package gpu

import (
	"sort"
	"strings"
)

// detectScript lists the PCI vendor:device id of every NVIDIA display or
// 3D controller on the host, one per line.
const detectScript = `lspci -nn | grep -Ei 'vga|3d' | sed -nE 's/.*\[(10de:[0-9a-f]+)\].*/\1/p'`

func DetectScript() string { return detectScript }

// MatchedGPU is a detected device resolved against the catalog.
type MatchedGPU struct {
	PCIID     string `json:"pci_id"`
	Vendor    string `json:"vendor"`
	Model     string `json:"model"`
	Memory    string `json:"memory,omitempty"`
	Interface string `json:"interface,omitempty"`
}

// InventoryMatch compares what the host reports against the capability
// catalog. Unknown ids mean hardware the marketplace cannot price.
type InventoryMatch struct {
	Matched []MatchedGPU `json:"matched"`
	Unknown []string     `json:"unknown,omitempty"`
}

func (m InventoryMatch) Count() int { return len(m.Matched) + len(m.Unknown) }

// Satisfied reports whether every detected device is in the catalog and
// the detected count covers what the provider declared.
func (m InventoryMatch) Satisfied(expectedCount int) bool {
	return len(m.Unknown) == 0 && m.Count() >= expectedCount
}

// ParseDetected parses detectScript output into vendor:device id pairs.
func ParseDetected(output string) []string {
	var ids []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.ToLower(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		if before, after, ok := strings.Cut(line, ":"); ok && before != "" && after != "" {
			ids = append(ids, line)
		}
	}
	return ids
}

// Match resolves detected PCI ids against the catalog.
func Match(detected []string, catalog Catalog) InventoryMatch {
	var result InventoryMatch
	for _, id := range detected {
		vendorID, deviceID, _ := strings.Cut(id, ":")
		vendor, device, ok := catalog.Lookup(vendorID, deviceID)
		if !ok {
			result.Unknown = append(result.Unknown, id)
			continue
		}
		result.Matched = append(result.Matched, MatchedGPU{
			PCIID:     id,
			Vendor:    vendor.Name,
			Model:     device.Name,
			Memory:    device.MemorySize,
			Interface: device.Interface,
		})
	}
	sort.Strings(result.Unknown)
	return result
}
