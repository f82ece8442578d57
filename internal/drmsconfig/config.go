// Package drmsconfig holds the enumerated configuration options of
// spec.md §6. The engine is a library: the primary construction path is
// programmatic (Default() + field overrides); BindFlags exists only for the
// thin cmd/ demo, matching the teacher's cmd/pg_lineage_demo which parses
// flags itself rather than pulling in a config framework.
package drmsconfig

import "flag"

const (
	defaultChunkSize    = 128
	maxChunkSize        = 8192
	defaultMemoryBudget = 64 << 20 // 64MiB, scales LIMIT derivation (§4.C)
)

// Config is process-wide; env.Environment holds exactly one.
type Config struct {
	// QueryMemBudget scales the LIMIT computed for All and all-versions
	// queries: limit = QueryMemBudget / estimated_row_bytes.
	QueryMemBudget int64
	// CreateShadows permits ShadowIndex.MayCreate to materialize a
	// missing shadow table when a query would otherwise benefit.
	CreateShadows bool
	// ChunkSize is the default cursor fetch size (§4.H), capped at
	// maxChunkSize.
	ChunkSize int
	// Verbose enables query logging.
	Verbose bool
	// AllowDSDS, when false, makes any Legacy/LegacyPort/PlainFile
	// sub-spec fail with NoLegacySupport.
	AllowDSDS bool
}

// Default returns the engine's built-in defaults.
func Default() Config {
	return Config{
		QueryMemBudget: defaultMemoryBudget,
		CreateShadows:  false,
		ChunkSize:      defaultChunkSize,
		Verbose:        false,
		AllowDSDS:      true,
	}
}

// Validate normalizes out-of-range values in place: a non-positive
// ChunkSize or QueryMemBudget is reset to its default and an oversized
// ChunkSize is clamped to maxChunkSize. It currently always returns nil.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.ChunkSize > maxChunkSize {
		c.ChunkSize = maxChunkSize
	}
	if c.QueryMemBudget <= 0 {
		c.QueryMemBudget = defaultMemoryBudget
	}
	return nil
}

// BindFlags registers the config fields on fs, for use by cmd/ entry
// points only — library callers should construct Config directly.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.Int64Var(&c.QueryMemBudget, "query-mem-budget", defaultMemoryBudget, "byte budget used to derive query LIMIT clauses")
	fs.BoolVar(&c.CreateShadows, "create-shadows", false, "allow materializing missing shadow tables")
	fs.IntVar(&c.ChunkSize, "chunk-size", defaultChunkSize, "default cursor fetch chunk size")
	fs.BoolVar(&c.Verbose, "verbose", false, "enable query logging")
	fs.BoolVar(&c.AllowDSDS, "allow-dsds", true, "allow legacy-archive and plain-file record-set specs")
}
