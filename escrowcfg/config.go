package escrowcfg

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jessevdk/go-flags"
	"github.com/p2ptrade/escrowd/build"
)

const (
	// DefaultConfigFilename is the default configuration file name.
	DefaultConfigFilename = "escrowd.conf"

	defaultDataDirname = "data"
	defaultLogDirname  = "logs"
	defaultLogFilename = "escrowd.log"

	defaultDebugLevel = "info"
	defaultNetwork    = "mainnet"
)

var (
	// DefaultEscrowDir is the default application directory.
	DefaultEscrowDir = btcutil.AppDataDir("escrowd", false)

	// DefaultConfigFile is the default path of the config file.
	DefaultConfigFile = filepath.Join(
		DefaultEscrowDir, DefaultConfigFilename,
	)

	defaultDataDir = filepath.Join(DefaultEscrowDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultEscrowDir, defaultLogDirname)
)

// Config is the complete configuration of the escrow tooling.
//
//nolint:lll
type Config struct {
	EscrowDir  string `long:"escrowdir" description:"The base directory that contains the escrow data, logs and configuration file."`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file."`
	DataDir    string `short:"b" long:"datadir" description:"The directory to store the escrow database within."`
	LogDir     string `long:"logdir" description:"Directory to log output."`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems."`

	Network string `long:"network" description:"The bitcoin network trades run on." choice:"mainnet" choice:"testnet" choice:"regtest" choice:"signet" choice:"simnet"`

	Escrow *Escrow `group:"escrow" namespace:"escrow"`

	BurningMan *BurningMan `group:"burningman" namespace:"burningman"`

	DB *DB `group:"db" namespace:"db"`

	LogConfig *build.LogConfig `group:"logging" namespace:"logging"`
}

// DefaultConfig returns a config with sane defaults.
func DefaultConfig() Config {
	return Config{
		EscrowDir:  DefaultEscrowDir,
		ConfigFile: DefaultConfigFile,
		DataDir:    defaultDataDir,
		LogDir:     defaultLogDir,
		DebugLevel: defaultDebugLevel,
		Network:    defaultNetwork,
		Escrow:     DefaultEscrow(),
		BurningMan: DefaultBurningMan(),
		DB:         DefaultDB(),
		LogConfig:  build.DefaultLogConfig(),
	}
}

// LoadConfig initializes and parses the config using a config file and the
// passed command line arguments.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(args []string) (*Config, error) {
	preCfg := DefaultConfig()
	if _, err := flags.NewParser(&preCfg, flags.Default).ParseArgs(
		args,
	); err != nil {
		return nil, err
	}

	// A custom escrow directory moves the default config file with it.
	configFileDir := CleanAndExpandPath(preCfg.EscrowDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultEscrowDir &&
		configFilePath == DefaultConfigFile {

		configFilePath = filepath.Join(
			configFileDir, DefaultConfigFilename,
		)
	}

	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// A missing config file is fine, a malformed one is not.
		if _, ok := err.(*flags.IniError); ok {
			return nil, err
		}

		configFileError = err
	}

	// Command line options take precedence over the config file.
	if _, err := flags.NewParser(&cfg, flags.Default).ParseArgs(
		args,
	); err != nil {
		return nil, err
	}

	cleanCfg, err := ValidateConfig(cfg)
	if err != nil {
		return nil, err
	}

	if configFileError != nil {
		log.Debugf("Not using config file: %v", configFileError)
	}

	return cleanCfg, nil
}

// ValidateConfig checks the given configuration and normalizes all file
// system paths. The cleaned up config is returned on success.
func ValidateConfig(cfg Config) (*Config, error) {
	// Data and log directories follow a custom escrow directory unless
	// they were set explicitly.
	escrowDir := CleanAndExpandPath(cfg.EscrowDir)
	if escrowDir != DefaultEscrowDir {
		if cfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(escrowDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(escrowDir, defaultLogDirname)
		}
	}
	cfg.EscrowDir = escrowDir
	cfg.ConfigFile = CleanAndExpandPath(cfg.ConfigFile)

	// Trades of different networks never share a database.
	network := NormalizeNetwork(cfg.Network)
	cfg.DataDir = filepath.Join(CleanAndExpandPath(cfg.DataDir), network)
	cfg.LogDir = filepath.Join(CleanAndExpandPath(cfg.LogDir), network)

	netParams, err := cfg.NetParams()
	if err != nil {
		return nil, err
	}

	err = Validate(cfg.Escrow, cfg.BurningMan, cfg.DB, cfg.LogConfig)
	if err != nil {
		return nil, err
	}

	if err := cfg.BurningMan.ValidateAddress(netParams); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// NetParams returns the parameters of the configured network.
func (c *Config) NetParams() (*chaincfg.Params, error) {
	switch c.Network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil

	case "testnet":
		return &chaincfg.TestNet3Params, nil

	case "regtest":
		return &chaincfg.RegressionNetParams, nil

	case "signet":
		return &chaincfg.SigNetParams, nil

	case "simnet":
		return &chaincfg.SimNetParams, nil

	default:
		return nil, fmt.Errorf("unknown network: %v", c.Network)
	}
}

// LogFile returns the path of the main log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}

// NormalizeNetwork returns the common name of a network type used to create
// file paths.
func NormalizeNetwork(network string) string {
	if strings.HasPrefix(network, "testnet") {
		return "testnet"
	}

	return network
}
