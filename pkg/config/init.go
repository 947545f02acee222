package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// InitConfig writes a commented default configuration to the default
// location ($XDG_CONFIG_HOME/netclass/config.yaml).
//
// Returns the path written. Fails if the file exists and force is false.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a commented default configuration to path,
// creating parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use force to overwrite)", path)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a comment on every
// section and key. Keys use the mapstructure names Load reads.
func generateYAMLWithComments(cfg *Config) (string, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	b := &nodeBuilder{}

	logging := b.section(root, "logging", "Logging configuration")
	b.scalar(logging, "level", cfg.Logging.Level, "Minimum level: DEBUG, INFO, WARN, ERROR")
	b.scalar(logging, "format", cfg.Logging.Format, "Output format: text or json")
	b.scalar(logging, "output", cfg.Logging.Output, "stdout, stderr, or a file path (rotated)")

	server := b.section(root, "server", "Session settings")
	b.scalar(server, "port", cfg.Server.Port, "Listening port")
	b.scalar(server, "max_clients", cfg.Server.MaxClients, "Maximum simultaneous clients")
	b.scalar(server, "password", cfg.Server.Password, "Password required from clients (empty: none)")
	b.scalar(server, "allow_non_host_ownership", cfg.Server.AllowsNonHostOwnership(),
		"Let clients other than the host create network objects")
	b.scalar(server, "tick_rate", cfg.Server.TickRate, "Session ticks per second")
	b.scalar(server, "restart_on_host_disconnect", cfg.Server.RestartsOnHostDisconnect(),
		"Start a fresh session on the same port when the host leaves")
	b.scalar(server, "metrics_log_interval", cfg.Server.MetricsLogInterval.String(),
		"Log a session summary at this interval (0s: disabled)")
	b.scalar(server, "shutdown_timeout", cfg.Server.ShutdownTimeout.String(),
		"Maximum time to wait for auxiliary servers on shutdown")

	metrics := b.section(server, "metrics", "Prometheus endpoint")
	b.scalar(metrics, "enabled", cfg.Server.Metrics.Enabled, "Expose /metrics over HTTP")
	b.scalar(metrics, "port", cfg.Server.Metrics.Port, "HTTP port of the metrics server")

	tr := b.section(root, "transport", "Transport selection")
	b.scalar(tr, "type", cfg.Transport.Type, "tcp or memory")
	tcp := b.section(tr, "tcp", "TCP options (read_timeout, write_timeout, idle_timeout, handshake_timeout,\nshutdown_timeout, max_frame_size, send_queue_size, rate_limit)")
	b.scalar(tcp, "read_timeout", "30s", "Time to read one frame once it started")
	b.scalar(tcp, "idle_timeout", "5m0s", "Close connections silent for this long")

	if b.err != nil {
		return "", fmt.Errorf("failed to render config: %w", b.err)
	}

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "netclass Configuration File\n\nEnvironment variables (NETCLASS_*) override these values.",
		Content:     []*yaml.Node{root},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.String(), nil
}

// nodeBuilder appends commented keys to mapping nodes and keeps the first
// encoding error.
type nodeBuilder struct {
	err error
}

func (b *nodeBuilder) section(parent *yaml.Node, key, comment string) *yaml.Node {
	m := &yaml.Node{Kind: yaml.MappingNode}
	parent.Content = append(parent.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key, HeadComment: comment}, m)
	return m
}

func (b *nodeBuilder) scalar(parent *yaml.Node, key string, value any, comment string) {
	v := &yaml.Node{}
	if err := v.Encode(value); err != nil && b.err == nil {
		b.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	v.LineComment = comment
	parent.Content = append(parent.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key}, v)
}
