package cfg

type Cfg struct {
	// Storage
	DBPath      string
	ProfilesDir string
	RedisURL    string

	// Application configuration
	Port              string
	WorkerCount       int
	SchedulerInterval int
	TaskTimeout       int
	APIAccessKey      string

	// Portal client
	UserAgent      string
	RequestTimeout int
	RateLimit      float64

	// EPG matching
	EpgAbbreviationMatch bool

	// Application metadata
	Timezone string
	Debug    bool
	Version  string
}
