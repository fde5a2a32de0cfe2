package dynamo

// DynamoDB attribute names used in update expressions across all repos.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldEnable       = "enable"
	fieldUsedAt       = "used_at"
	fieldEmbedding    = "embedding"
	fieldQuality      = "quality"
	fieldSampleCount  = "sample_count"
	fieldPasswordHash = "password_hash"
)
