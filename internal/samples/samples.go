// Package samples ships the delivery and flower-shop jobs as embedded
// definitions.
package samples

import (
	"embed"
	"io/fs"
	"path"
	"sort"

	"github.com/rendis/jobflow/internal/catalog"
	"github.com/rendis/jobflow/internal/job"
)

//go:embed jobs/*.yaml
var files embed.FS

// Names of the sample jobs.
const (
	DeliverPackageJob = "deliverPackageJob"
	BillingJob        = "billingJob"
	PrepareFlowersJob = "prepareFlowersJob"
)

// Files returns the embedded definition files in load order.
func Files() ([]string, error) {
	names, err := fs.Glob(files, "jobs/*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Read returns the content of an embedded definition file.
func Read(name string) ([]byte, error) {
	return files.ReadFile(path.Clean(name))
}

// Load adds every sample job to c.
func Load(c *catalog.Catalog) ([]*job.Job, error) {
	names, err := Files()
	if err != nil {
		return nil, err
	}
	var all []*job.Job
	for _, name := range names {
		data, err := files.ReadFile(name)
		if err != nil {
			return nil, err
		}
		jobs, err := c.LoadBytes(data, catalog.FormatYAML)
		if err != nil {
			return nil, err
		}
		all = append(all, jobs...)
	}
	return all, nil
}
