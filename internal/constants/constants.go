// Package constants provides named constants used throughout the stargal codebase.
// This centralizes the recipe's magic values so the driver never hardcodes them.
package constants

import "time"

// Sweep shape defaults
const (
	// DefaultFirstRealisation is the first realisation index visited.
	// Index 0 of the atmosphere table is not consumed with this default.
	DefaultFirstRealisation = 1

	// DefaultRealisationCount is the exclusive upper bound of realisation indices.
	DefaultRealisationCount = 100

	// DefaultSensor is the centre raft, top centre chip.
	DefaultSensor = "R22_S21"

	// DefaultProfile selects the simulator configuration without sky background.
	DefaultProfile = "examples/nobackground"
)

// Input and output naming
const (
	// TypePlaceholder is replaced with the catalogue type in template paths.
	TypePlaceholder = "{type}"

	// DefaultCatalogueTemplate is the per-type template file name.
	DefaultCatalogueTemplate = TypePlaceholder + ".pars"

	// DefaultAtmosphereFile holds one "<seed> <seeing>" row per realisation.
	DefaultAtmosphereFile = "atmosphere.dat"

	// WorkDirPrefix and OutDirPrefix name the per-job directory pair.
	WorkDirPrefix = "work"
	OutDirPrefix  = "output"

	// StateDirName is the directory under base_dir holding the ledger and event log.
	StateDirName = ".stargal"

	// LedgerFileName is the SQLite ledger inside StateDirName.
	LedgerFileName = "ledger.db"

	// EventLogFileName is the JSONL job event trace inside StateDirName.
	EventLogFileName = "events.jsonl"

	// BatchLogFileName is the batch system's stdout capture inside each workdir.
	BatchLogFileName = "log.log"
)

// Catalogue directives rewritten per realisation
const (
	SeedDirective   = "SIM_SEED"
	SeeingDirective = "Opsim_rawseeing"
)

// Throttle defaults
const (
	// DefaultThrottleDelay is the pause between consecutive simulator runs.
	DefaultThrottleDelay = 5 * time.Second

	// DefaultTokenBucketBurst is the token bucket size when none is configured.
	DefaultTokenBucketBurst = 1
)

// Batch submission defaults
const (
	DefaultBatchSubmit    = "bsub"
	DefaultBatchQueue     = "xlong"
	DefaultBatchResources = "rhel60"
)
