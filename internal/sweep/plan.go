package sweep

import (
	"fmt"
	"path/filepath"

	"github.com/nvandessel/stargal/internal/atmosphere"
	"github.com/nvandessel/stargal/internal/catalogue"
	"github.com/nvandessel/stargal/internal/config"
)

// Inputs are the files read once before any job runs.
type Inputs struct {
	Atmosphere *atmosphere.Table

	// Templates is keyed by catalogue type.
	Templates map[string]*catalogue.Template
}

// LoadInputs reads the atmosphere table and every catalogue template and
// checks that the table covers the requested realisations. It touches
// nothing on disk besides reading.
func LoadInputs(cfg *config.Config) (*Inputs, error) {
	table, err := atmosphere.Load(cfg.AtmosphereFile)
	if err != nil {
		return nil, fmt.Errorf("loading atmosphere table: %w", err)
	}
	if err := table.Covers(cfg.Realisations.First, cfg.Realisations.Count); err != nil {
		return nil, err
	}

	templates := make(map[string]*catalogue.Template, len(cfg.Types))
	for _, t := range cfg.Types {
		tmpl, err := catalogue.LoadTemplate(t, cfg.CataloguePath(t))
		if err != nil {
			return nil, fmt.Errorf("loading %s catalogue: %w", t, err)
		}
		templates[t] = tmpl
	}

	return &Inputs{Atmosphere: table, Templates: templates}, nil
}

// Plan loads the inputs and returns the jobs a sweep would run, in order.
func Plan(cfg *config.Config) ([]Job, error) {
	in, err := LoadInputs(cfg)
	if err != nil {
		return nil, err
	}
	return PlanJobs(cfg, in)
}

// PlanJobs expands the configuration into jobs: types in declared order,
// then realisations in increasing order.
func PlanJobs(cfg *config.Config, in *Inputs) ([]Job, error) {
	indices := cfg.Realisations.Indices()
	jobs := make([]Job, 0, len(cfg.Types)*len(indices))
	for _, t := range cfg.Types {
		for _, i := range indices {
			entry, err := in.Atmosphere.At(i)
			if err != nil {
				return nil, err
			}
			workDir, outDir := JobDirs(cfg.BaseDir, t, cfg.Sensor, i)
			jobs = append(jobs, Job{
				Type:          t,
				Realisation:   i,
				Seed:          entry.Seed,
				Seeing:        entry.Seeing,
				WorkDir:       workDir,
				OutDir:        outDir,
				CataloguePath: filepath.Join(workDir, catalogue.DerivedName(t, i)),
			})
		}
	}
	return jobs, nil
}
