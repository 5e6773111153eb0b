package graph

// BatchConfig defines optimal batch sizes for different node/edge types.
// Small batches suit complex nodes with many properties; large batches suit
// edges, which carry few properties and dominate ingestion volume.
type BatchConfig struct {
	FileBatchSize      int // Optimal: 500-1000
	ModuleBatchSize     int // Optimal: 500-1000
	ClassBatchSize      int // Optimal: 500-1000
	FunctionBatchSize   int // Optimal: 1000-2000
	ExternalBatchSize   int // Optimal: 1000-2000
	DetectorMetaBatchSize int // Optimal: 200-500

	EdgeBatchSize int // Optimal: 1000-5000
}

// DefaultBatchConfig returns optimized batch sizes for medium repos (~5K files).
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		FileBatchSize:         1000,
		ModuleBatchSize:       1000,
		ClassBatchSize:        1000,
		FunctionBatchSize:     2000,
		ExternalBatchSize:     2000,
		DetectorMetaBatchSize: 500,
		EdgeBatchSize:         5000,
	}
}

// SmallRepoBatchConfig is for repos < 500 files; smaller batches reduce
// memory pressure on constrained ingestion hosts.
func SmallRepoBatchConfig() BatchConfig {
	return BatchConfig{
		FileBatchSize:         200,
		ModuleBatchSize:       200,
		ClassBatchSize:        200,
		FunctionBatchSize:     500,
		ExternalBatchSize:     500,
		DetectorMetaBatchSize: 100,
		EdgeBatchSize:         1000,
	}
}

// LargeRepoBatchConfig is for repos > 10K files; larger batches maximize
// ingestion throughput at the cost of per-batch memory.
func LargeRepoBatchConfig() BatchConfig {
	return BatchConfig{
		FileBatchSize:         2000,
		ModuleBatchSize:       2000,
		ClassBatchSize:        2000,
		FunctionBatchSize:     5000,
		ExternalBatchSize:     5000,
		DetectorMetaBatchSize: 1000,
		EdgeBatchSize:         10000,
	}
}

// GetBatchSizeForLabel returns the appropriate batch size for a given node label.
func (bc BatchConfig) GetBatchSizeForLabel(label string) int {
	switch label {
	case "File":
		return bc.FileBatchSize
	case "Module":
		return bc.ModuleBatchSize
	case "Class":
		return bc.ClassBatchSize
	case "Function":
		return bc.FunctionBatchSize
	case "BuiltinFunction", "ExternalFunction", "ExternalClass":
		return bc.ExternalBatchSize
	case "DetectorMetadata":
		return bc.DetectorMetaBatchSize
	default:
		return 500
	}
}
