package optname

const (
	APIKey             = "api-key"
	BaseURL            = "base-url"
	ChunkSize          = "chunk-size"
	ConnTimeout        = "connect-timeout"
	Force              = "force"
	LoggingLevel       = "log-level"
	MaxWorkers         = "max-workers"
	MinRequestInterval = "min-request-interval"
	OutputDir          = "output-dir"
	Retries            = "retries"
	RetryDelay         = "retry-delay"
	Verbose            = "verbose"
)
