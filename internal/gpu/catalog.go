package gpu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Config struct {
	// CatalogURL points at the supported-GPU catalog (pcie gpus.json).
	CatalogURL string
	Timeout    time.Duration
}

// Catalog maps PCI vendor id to the vendor's supported devices.
type Catalog map[string]Vendor

type Vendor struct {
	Name    string            `json:"name"`
	Devices map[string]Device `json:"devices"`
}

type Device struct {
	Name       string `json:"name"`
	MemorySize string `json:"memory_size"`
	Interface  string `json:"interface"`
}

// Lookup resolves a "vendor:device" PCI id pair against the catalog.
func (c Catalog) Lookup(vendorID, deviceID string) (Vendor, Device, bool) {
	vendor, ok := c[vendorID]
	if !ok {
		return Vendor{}, Device{}, false
	}
	device, ok := vendor.Devices[deviceID]
	if !ok {
		return vendor, Device{}, false
	}
	return vendor, device, true
}

type CatalogClient struct {
	config     Config
	httpClient *http.Client
}

func NewCatalogClient(config Config) *CatalogClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &CatalogClient{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *CatalogClient) Fetch(ctx context.Context) (Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.CatalogURL, nil)
	if err != nil {
		return nil, fmt.Errorf("gpu: build catalog request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gpu: fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gpu: fetch catalog: unexpected status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gpu: read catalog body: %w", err)
	}

	var catalog Catalog
	if err := json.Unmarshal(body, &catalog); err != nil {
		return nil, fmt.Errorf("gpu: decode catalog: %w", err)
	}
	return catalog, nil
}
