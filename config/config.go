package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	AppName  string `json:"app_name" yaml:"app_name" toml:"app_name"`
	Version  string `json:"version" yaml:"version" toml:"version"`
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`

	Database    DatabaseConfig    `json:"database" yaml:"database" toml:"database"`
	Replication ReplicationConfig `json:"replication" yaml:"replication" toml:"replication"`
	Outbox      OutboxConfig      `json:"outbox" yaml:"outbox" toml:"outbox"`
	FGA         FGAConfig         `json:"fga" yaml:"fga" toml:"fga"`
}

type DatabaseConfig struct {
	Hosts    []string `json:"hosts" yaml:"hosts" toml:"hosts"`
	Port     uint16   `json:"port" yaml:"port" toml:"port"`
	Username string   `json:"username" yaml:"username" toml:"username"`
	Password string   `json:"password" yaml:"password" toml:"password"`
	Database string   `json:"database" yaml:"database" toml:"database"`
}

// ConnString builds a pgx-compatible URL for regular (non-replication)
// pool connections. Only the first host is used; the pipeline talks to
// the primary.
func (d DatabaseConfig) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Hosts[0], d.Port),
		Path:   "/" + d.Database,
	}
	if d.Username != "" {
		u.User = url.UserPassword(d.Username, d.Password)
	}
	return u.String()
}

type ReplicationConfig struct {
	SlotName              string `json:"slot_name" yaml:"slot_name" toml:"slot_name"`
	PublicationName       string `json:"publication_name" yaml:"publication_name" toml:"publication_name"`
	CreateSlotIfMissing   bool   `json:"create_slot_if_missing" yaml:"create_slot_if_missing" toml:"create_slot_if_missing"`
	CreatePubIfMissing    bool   `json:"create_publication_if_missing" yaml:"create_publication_if_missing" toml:"create_publication_if_missing"`
	DropSlotOnStop        bool   `json:"drop_slot_on_stop" yaml:"drop_slot_on_stop" toml:"drop_slot_on_stop"`
	DropPublicationOnStop bool   `json:"drop_publication_on_stop" yaml:"drop_publication_on_stop" toml:"drop_publication_on_stop"`
	TransactionBufferSize int    `json:"transaction_buffer_size" yaml:"transaction_buffer_size" toml:"transaction_buffer_size"`
}

type OutboxConfig struct {
	Schema string `json:"schema" yaml:"schema" toml:"schema"`
	Table  string `json:"table" yaml:"table" toml:"table"`
}

type FGAConfig struct {
	APIURL  string `json:"api_url" yaml:"api_url" toml:"api_url"`
	StoreID string `json:"store_id" yaml:"store_id" toml:"store_id"`
	ModelID string `json:"model_id" yaml:"model_id" toml:"model_id"`
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig

	switch {
	case strings.HasSuffix(path, ".json"):
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case strings.HasSuffix(path, ".toml"):
		if _, err := toml.Decode(string(data), &config); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", path)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate enforces the required configuration surface. The propagation
// pipeline has no sensible defaults for any of these: starting with a
// wrong slot or outbox table would silently consume the wrong stream.
func (c *Config) Validate() error {
	var missing []string

	if len(c.Database.Hosts) == 0 {
		missing = append(missing, "database.hosts")
	}
	if c.Database.Database == "" {
		missing = append(missing, "database.database")
	}
	if c.Replication.SlotName == "" {
		missing = append(missing, "replication.slot_name")
	}
	if c.Replication.PublicationName == "" {
		missing = append(missing, "replication.publication_name")
	}
	if c.Outbox.Schema == "" {
		missing = append(missing, "outbox.schema")
	}
	if c.Outbox.Table == "" {
		missing = append(missing, "outbox.table")
	}
	if c.FGA.APIURL == "" {
		missing = append(missing, "fga.api_url")
	}
	if c.FGA.StoreID == "" {
		missing = append(missing, "fga.store_id")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

var DefaultConfig = Config{
	AppName:  "authsync",
	Version:  "0.1.0",
	LogLevel: "info",
	Database: DatabaseConfig{
		Port: 5432,
	},
	Replication: ReplicationConfig{
		TransactionBufferSize: 32,
	},
}
