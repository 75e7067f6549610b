package lobby

import (
	"fmt"
	"io/ioutil"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v2"
)

// Config is the complete server configuration, loaded from a YAML file
// named by --loadargs and overridden by CLI flags. It is swapped
// atomically on rehash rather than mutated field-by-field.
type Config struct {
	Filename string `yaml:"-"`

	Server struct {
		Port             int    `yaml:"port"`
		NATPort          int    `yaml:"natport"`
		Name             string `yaml:"name"`
		LatestSpringVersion string `yaml:"latest_spring_version"`
		MaxThreads       int    `yaml:"max_threads"`
		NoCensor         bool   `yaml:"no_censor"`
		AgreementFile    string `yaml:"agreement_file"`
		MOTDFile         string `yaml:"motd_file"`
		ProxiesFile      string `yaml:"proxies_file"`
		SighupReload     bool   `yaml:"sighup_reload"`
		WSListen         string `yaml:"ws_listen"` // e.g. ":8202"; empty disables the websocket listener
	} `yaml:"server"`

	Datastore struct {
		Path   string `yaml:"path"`
		SQLURL string `yaml:"sql_url"`
	} `yaml:"datastore"`

	Logging LoggingConfig `yaml:"logging"`

	Email struct {
		SMTPAddr       string `yaml:"smtp_addr"`
		From           string `yaml:"from"`
		DKIMDomain     string `yaml:"dkim_domain"`
		DKIMSelector   string `yaml:"dkim_selector"`
		DKIMPrivKeyFile string `yaml:"dkim_privkey_file"`
	} `yaml:"email"`

	GeoIP struct {
		DatabasePath string `yaml:"database_path"`
	} `yaml:"geoip"`

	TokenSecret string `yaml:"token_secret"`

	Limits struct {
		SendBufferFlood    string        `yaml:"send_buffer_flood"` // human size, e.g. "256K"; parsed into SendBufferFlushKiB
		SendBufferFlushKiB int           `yaml:"-"`
		SendBufferFloodFor time.Duration `yaml:"send_buffer_flood_for"`
		MaxLineLength      int           `yaml:"max_line_length"`
		RegistrationThrottleEvery time.Duration `yaml:"registration_throttle_every"`
		RenameThrottleEvery       time.Duration `yaml:"rename_throttle_every"`
	} `yaml:"limits"`

	AntiSpam AntiSpamConfig `yaml:"antispam"`
}

// LoggingConfig mirrors the shape package logger.Config expects, kept
// here so a single YAML document configures the whole process.
type LoggingConfig struct {
	Filename string                  `yaml:"filename"`
	Sections map[string]string       `yaml:"sections"`
	RawIO    map[string]bool         `yaml:"raw_io"`
}

// AntiSpamConfig holds the default per-channel spamprotection tunables
// (spec §4.6); individual channels may override via SPAMSETTINGS.
type AntiSpamConfig struct {
	Timeout       float64 `yaml:"timeout"`
	Aggressiveness float64 `yaml:"aggressiveness"`
	BonusLength   int     `yaml:"bonuslength"`
	Duration      int     `yaml:"duration"`
	Quiet         bool    `yaml:"quiet"`
}

// DefaultConfig returns the built-in defaults applied before a YAML file
// and CLI flags are layered on top.
func DefaultConfig() *Config {
	c := &Config{}
	c.Server.Port = 8200
	c.Server.NATPort = 8201
	c.Server.Name = "lobbyserver"
	c.Server.MaxThreads = 0
	c.Datastore.Path = "lobby.db"
	c.Limits.SendBufferFlood = "256K"
	c.Limits.SendBufferFloodFor = 30 * time.Second
	c.Limits.MaxLineLength = 1024
	c.Limits.RegistrationThrottleEvery = 20 * time.Minute
	c.Limits.RenameThrottleEvery = 7 * 24 * time.Hour
	c.AntiSpam.Timeout = 10
	c.AntiSpam.Aggressiveness = 5
	c.AntiSpam.BonusLength = 50
	c.AntiSpam.Duration = 30
	return c
}

// LoadConfig reads and validates a YAML config file, starting from
// DefaultConfig so unset fields keep sane values.
func LoadConfig(filename string) (*Config, error) {
	config := DefaultConfig()
	if filename != "" {
		data, err := ioutil.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	config.Filename = filename
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.AntiSpam.Timeout <= 0 {
		return fmt.Errorf("antispam timeout must be positive")
	}
	if c.AntiSpam.BonusLength <= 0 {
		return fmt.Errorf("antispam bonuslength must be positive")
	}
	floodBytes, err := bytefmt.ToBytes(c.Limits.SendBufferFlood)
	if err != nil {
		return fmt.Errorf("limits.send_buffer_flood: %w", err)
	}
	c.Limits.SendBufferFlushKiB = int(floodBytes / bytefmt.KILOBYTE)
	return nil
}

// ApplyFlags overlays parsed docopt flags onto a loaded config, matching
// the precedence CLI flags have over the YAML file in spec §6.3.
func (c *Config) ApplyFlags(flags CLIFlags) {
	if flags.Port != 0 {
		c.Server.Port = flags.Port
	}
	if flags.NATPort != 0 {
		c.Server.NATPort = flags.NATPort
	}
	if flags.Output != "" {
		c.Logging.Filename = flags.Output
	}
	if flags.LatestSpringVersion != "" {
		c.Server.LatestSpringVersion = flags.LatestSpringVersion
	}
	if flags.MaxThreads != 0 {
		c.Server.MaxThreads = flags.MaxThreads
	}
	if flags.SQLURL != "" {
		c.Datastore.SQLURL = flags.SQLURL
	}
	if flags.NoCensor {
		c.Server.NoCensor = true
	}
	if flags.Agreement != "" {
		c.Server.AgreementFile = flags.Agreement
	}
	if flags.Proxies != "" {
		c.Server.ProxiesFile = flags.Proxies
	}
	if flags.Sighup {
		c.Server.SighupReload = true
	}
}

// CLIFlags is the parsed shape of the docopt usage string in spec §6.3.
type CLIFlags struct {
	Port                int
	NATPort             int
	Output              string
	Sighup              bool
	LatestSpringVersion string
	MaxThreads          int
	SQLURL              string
	NoCensor            bool
	Agreement           string
	Proxies             string
	LoadArgs            string
}
