package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Operation describes how one asynchronous command is polled
type Operation struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Interval    time.Duration `yaml:"interval"`
	MaxWait     time.Duration `yaml:"max_wait"`
	MaxAttempts int           `yaml:"max_attempts"`
	Params      []string      `yaml:"params"`
}

// MissingParams returns the required parameter names absent from params
func (o Operation) MissingParams(params map[string]string) []string {
	var missing []string
	for _, name := range o.Params {
		if params[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Catalog is the set of known operations, looked up case-insensitively
type Catalog struct {
	Operations []Operation `yaml:"operations"`

	index map[string]int
}

// LoadCatalog reads a YAML catalog from path
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	cat, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", path, err)
	}
	return cat, nil
}

// ParseCatalog decodes and validates a YAML catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := cat.build(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// NewCatalog builds a catalog from operations
func NewCatalog(ops ...Operation) (*Catalog, error) {
	cat := &Catalog{Operations: ops}
	if err := cat.build(); err != nil {
		return nil, err
	}
	return cat, nil
}

func (c *Catalog) build() error {
	c.index = make(map[string]int, len(c.Operations))
	for i, op := range c.Operations {
		if op.Name == "" {
			return fmt.Errorf("operation %d has no name", i)
		}
		if op.Interval <= 0 {
			return fmt.Errorf("operation %s: interval must be positive", op.Name)
		}
		if op.MaxWait < 0 || op.MaxAttempts < 0 {
			return fmt.Errorf("operation %s: limits must not be negative", op.Name)
		}
		key := strings.ToLower(op.Name)
		if _, dup := c.index[key]; dup {
			return fmt.Errorf("duplicate operation %s", op.Name)
		}
		c.index[key] = i
	}
	return nil
}

// Lookup returns the operation with the given name
func (c *Catalog) Lookup(name string) (Operation, bool) {
	if c == nil {
		return Operation{}, false
	}
	i, ok := c.index[strings.ToLower(name)]
	if !ok {
		return Operation{}, false
	}
	return c.Operations[i], true
}

// Names returns the operation names in alphabetical order
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Operations))
	for _, op := range c.Operations {
		names = append(names, op.Name)
	}
	sort.Strings(names)
	return names
}

// DefaultCatalog returns the console's asynchronous operations with their
// usual polling cadence. Template and snapshot creation can run for hours.
func DefaultCatalog() *Catalog {
	cat, err := NewCatalog(
		Operation{Name: "deployVirtualMachine", Description: "Create and start a VM instance", Interval: 3 * time.Second, Params: []string{"zoneid", "serviceofferingid", "templateid"}},
		Operation{Name: "startVirtualMachine", Description: "Start a stopped VM instance", Interval: 3 * time.Second, Params: []string{"id"}},
		Operation{Name: "stopVirtualMachine", Description: "Stop a running VM instance", Interval: 3 * time.Second, Params: []string{"id"}},
		Operation{Name: "rebootVirtualMachine", Description: "Reboot a VM instance", Interval: 3 * time.Second, Params: []string{"id"}},
		Operation{Name: "destroyVirtualMachine", Description: "Destroy a VM instance", Interval: 3 * time.Second, Params: []string{"id"}},
		Operation{Name: "migrateVirtualMachine", Description: "Live-migrate a VM instance to another host", Interval: 10 * time.Second, Params: []string{"virtualmachineid"}},
		Operation{Name: "createVolume", Description: "Create a data volume", Interval: 3 * time.Second, Params: []string{"name", "zoneid"}},
		Operation{Name: "attachVolume", Description: "Attach a volume to a VM instance", Interval: 3 * time.Second, Params: []string{"id", "virtualmachineid"}},
		Operation{Name: "detachVolume", Description: "Detach a volume from its VM instance", Interval: 3 * time.Second, Params: []string{"id"}},
		Operation{Name: "migrateVolume", Description: "Move a volume to another storage pool", Interval: 10 * time.Second, Params: []string{"volumeid", "storageid"}},
		Operation{Name: "createSnapshot", Description: "Snapshot a volume", Interval: 10 * time.Second, Params: []string{"volumeid"}},
		Operation{Name: "createTemplate", Description: "Create a template from a volume or snapshot", Interval: 30 * time.Second, Params: []string{"name", "displaytext", "ostypeid"}},
		Operation{Name: "copyTemplate", Description: "Copy a template to another zone", Interval: 30 * time.Second, Params: []string{"id", "destzoneid"}},
		Operation{Name: "prepareHostForMaintenance", Description: "Move a host into maintenance", Interval: 10 * time.Second, Params: []string{"id"}},
		Operation{Name: "cancelHostMaintenance", Description: "Return a host from maintenance", Interval: 10 * time.Second, Params: []string{"id"}},
		Operation{Name: "enableStorageMaintenance", Description: "Move a primary storage pool into maintenance", Interval: 10 * time.Second, Params: []string{"id"}},
		Operation{Name: "cancelStorageMaintenance", Description: "Return a primary storage pool from maintenance", Interval: 10 * time.Second, Params: []string{"id"}},
	)
	if err != nil {
		panic(err)
	}
	return cat
}
