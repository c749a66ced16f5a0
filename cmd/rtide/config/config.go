package config

import (
	"os"
	"strings"
	"time"

	"github.com/koding/multiconfig"
)

// Config defines rtide server configuration
type Config struct {
	// remote execution service
	Judge0URL     string        `flagUsage:"specifies the judge0 service base url" default:"https://judge0.usaco.guide"`
	Judge0Token   string        `flagUsage:"X-Auth-Token sent to the judge0 service"`
	Judge0Timeout time.Duration `flagUsage:"specifies timeout for a single submission (0 waits for the service)"`
	LanguageConf  string        `flagUsage:"specifies language table configuration file" default:"languages.yaml"`
	Parallelism   int           `flagUsage:"control the # of concurrent submissions to the service" default:"4"`
	MaxWaiting    int           `flagUsage:"control the # of submissions waiting for the service" default:"512"`

	// session
	SessionTimeout       time.Duration `flagUsage:"specifies idle timeout of a session" default:"30m"`
	SessionCheckInterval time.Duration `flagUsage:"specifies session timeout check interval" default:"1m"`
	MaxSessions          int           `flagUsage:"control the # of live sessions (0 for unlimited)"`

	// run report
	KafkaBrokers string `flagUsage:"comma separated kafka brokers to publish run reports"`
	KafkaTopic   string `flagUsage:"specifies kafka topic for run reports" default:"rtide-runs"`

	// server config
	HTTPAddr      string `flagUsage:"specifies the http binding address" default:":5060"`
	MonitorAddr   string `flagUsage:"specifies the metrics binding address" default:":5062"`
	MaxConns      int    `flagUsage:"control the # of concurrent http connections (0 for unlimited)"`
	AuthToken     string `flagUsage:"bearer token auth for REST / WebSocket"`
	EnableDebug   bool   `flagUsage:"enable debug endpoint"`
	EnableMetrics bool   `flagUsage:"enable promethus metrics endpoint"`

	// logger config
	Release bool `flagUsage:"release level of logs"`
	Silent  bool `flagUsage:"do not print logs"`

	// show version and exit
	Version bool `flagUsage:"show version and exit"`
}

// Load loads config from flag & environment variables
func (c *Config) Load() error {
	cl := multiconfig.MultiLoader(
		&multiconfig.TagLoader{},
		&multiconfig.EnvironmentLoader{
			Prefix:    "RTIDE",
			CamelCase: true,
		},
		&multiconfig.FlagLoader{
			CamelCase: true,
			EnvPrefix: "RTIDE",
		},
	)
	if os.Getpid() == 1 {
		c.Release = true
	}
	return cl.Load(c)
}

// Brokers returns the kafka broker list, empty when run reports are disabled
func (c *Config) Brokers() []string {
	var rt []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			rt = append(rt, b)
		}
	}
	return rt
}
