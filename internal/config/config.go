package config

import (
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const (
	EventSourceSubgraph = "subgraph"
	EventSourceLocal    = "local"
)

type Config struct {
	LogZapMode                     string `mapstructure:"LOG_ZAP_MODE"`
	PrintConfigurationToLogs       string `mapstructure:"PRINT_CONFIGURATION_TO_LOGS"`
	EthereumNodeUrl                string `mapstructure:"ETHEREUM_NODE_URL"`
	RPCPort                        int    `mapstructure:"RPC_PORT"`
	SubgraphUrl                    string `mapstructure:"SUBGRAPH_URL"`
	EventSource                    string `mapstructure:"EVENT_SOURCE"`
	MarketplaceContract            string `mapstructure:"MARKETPLACE_CONTRACT"`
	MarketplaceStartBlock          uint64 `mapstructure:"MARKETPLACE_START_BLOCK"`
	WatcherMaxChunkSize            uint64 `mapstructure:"WATCHER_MAX_CHUNK_SIZE"`
	RefreshIntervalSeconds         int    `mapstructure:"REFRESH_INTERVAL_SECONDS"`
	EnrichConcurrency              int    `mapstructure:"ENRICH_CONCURRENCY"`
	MetadataTimeoutSeconds         int    `mapstructure:"METADATA_TIMEOUT_SECONDS"`
	MetadataWorkers                int    `mapstructure:"METADATA_WORKERS"`
	IpfsGateway                    string `mapstructure:"IPFS_GATEWAY"`
	SqlitePath                     string `mapstructure:"SQLITE_PATH"`
	BadgerPath                     string `mapstructure:"BADGER_PATH"`
	SubscriptionIdleTimeoutSeconds int    `mapstructure:"SUBSCRIPTION_IDLE_TIMEOUT_SECONDS"`
	MaxSubscriptions               int    `mapstructure:"MAX_SUBSCRIPTIONS"`
}

// RefreshInterval is the poll delay between settled cycles.
func (c Config) RefreshInterval() time.Duration {
	if c.RefreshIntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

func (c Config) MetadataTimeout() time.Duration {
	if c.MetadataTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.MetadataTimeoutSeconds) * time.Second
}

func (c Config) SubscriptionIdleTimeout() time.Duration {
	if c.SubscriptionIdleTimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.SubscriptionIdleTimeoutSeconds) * time.Second
}

var lock = &sync.Mutex{}
var config *Config

var Get = get

func get() Config {
	if config == nil {
		lock.Lock()
		defer lock.Unlock()
		if config == nil {
			c := loadConfig()
			config = &c
		}
	}
	return *config
}

func loadConfig() Config {
	viperAddConfigFile()
	viperAddEnv()
	viperAddDefaults()
	cfg := initializeCfg()
	debugConfig(cfg)
	return cfg
}

func viperAddConfigFile() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("env")
}

func viperAddEnv() {
	viper.AutomaticEnv()
	// This makes sure that all envs are binded even if they are not represented in config file (https://github.com/spf13/viper/issues/584)
	valueOfConfig := reflect.ValueOf(&Config{}).Elem()
	fieldsOfConfig := reflect.TypeOf(&Config{}).Elem()
	for i := 0; i < valueOfConfig.NumField(); i++ {
		field, _ := fieldsOfConfig.FieldByName(valueOfConfig.Type().Field(i).Name)
		mapStructureVal := field.Tag.Get("mapstructure")
		err := viper.BindEnv(mapStructureVal)
		if err != nil {
			panic(fmt.Sprintf("Error binding env val '%v': %v", mapStructureVal, err))
		}
	}
}

func viperAddDefaults() {
	viper.SetDefault("RPC_PORT", 8080)
	viper.SetDefault("EVENT_SOURCE", EventSourceSubgraph)
	viper.SetDefault("WATCHER_MAX_CHUNK_SIZE", 5000)
	viper.SetDefault("REFRESH_INTERVAL_SECONDS", 10)
	viper.SetDefault("ENRICH_CONCURRENCY", 4)
	viper.SetDefault("METADATA_TIMEOUT_SECONDS", 15)
	viper.SetDefault("METADATA_WORKERS", 8)
	viper.SetDefault("IPFS_GATEWAY", "https://ipfs.io/ipfs/")
	viper.SetDefault("SQLITE_PATH", "./db/sqlite/sqlite")
	viper.SetDefault("BADGER_PATH", "./db/badger")
	viper.SetDefault("SUBSCRIPTION_IDLE_TIMEOUT_SECONDS", 300)
	viper.SetDefault("MAX_SUBSCRIPTIONS", 256)
}

func initializeCfg() Config {
	var cfg Config
	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		} else {
			panic(fmt.Sprintf("fatal error reading config file: %v", err))
		}
	}

	err = viper.Unmarshal(&cfg)
	if err != nil {
		panic(fmt.Sprintf("error unmarshaling config: %v", err))
	}
	return cfg
}

// Override replaces the loaded singleton, used by CLI flags.
func Override(mutate func(*Config)) {
	current := Get()
	mutate(&current)
	lock.Lock()
	defer lock.Unlock()
	config = &current
}

func debugConfig(cfg Config) {
	if cfg.PrintConfigurationToLogs == "true" {
		b, err := json.Marshal(cfg)
		var result string
		if err != nil {
			result = "[FAILED TO CONVERT CONF TO STRING]"
		} else {
			result = string(b)
		}
		log.Printf("[APP CONFIGURATION]: %v\n", result)
	}
}
