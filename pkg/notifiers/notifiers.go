package notifiers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	// Supported notifier types.
	TypeMastodon = "mastodon"
	TypeDiscord  = "discord"
	TypeHTTP     = "http"
	TypeTelegram = "telegram"
	TypeSNS      = "sns"
	TypeSQS      = "sqs"
	TypePubSub   = "pubsub"

	httpDefaultMethod         = "POST"
	defaultTimeoutSeconds     = 10
	mastodonDefaultVisibility = "public"
)

// configFile represents the structure of the notifiers configuration file.
type configFile struct {
	Notifiers []NotifierConfig `json:"notifiers" yaml:"notifiers"`
}

// NotifierConfig represents a single destination declared in config files.
type NotifierConfig struct {
	ID       string          `json:"id" yaml:"id"`
	Type     string          `json:"type" yaml:"type"`
	Enabled  *bool           `json:"enabled" yaml:"enabled"`
	Mastodon *MastodonConfig `json:"mastodon" yaml:"mastodon"`
	Discord  *DiscordConfig  `json:"discord" yaml:"discord"`
	HTTP     *HTTPConfig     `json:"http" yaml:"http"`
	Telegram *TelegramConfig `json:"telegram" yaml:"telegram"`
	SNS      *SNSConfig      `json:"sns" yaml:"sns"`
	SQS      *SQSConfig      `json:"sqs" yaml:"sqs"`
	PubSub   *PubSubConfig   `json:"pubsub" yaml:"pubsub"`
}

// MastodonConfig holds the instance base URL and access token for status posts.
type MastodonConfig struct {
	Instance       string `json:"instance" yaml:"instance"`
	Token          string `json:"token" yaml:"token"`
	Visibility     string `json:"visibility" yaml:"visibility"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// DiscordConfig holds a channel webhook.
type DiscordConfig struct {
	WebhookURL     string `json:"webhook_url" yaml:"webhook_url"`
	Username       string `json:"username" yaml:"username"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// HTTPConfig holds generic webhook settings.
type HTTPConfig struct {
	URL            string            `json:"url" yaml:"url"`
	Method         string            `json:"method" yaml:"method"`
	Headers        map[string]string `json:"headers" yaml:"headers"`
	TimeoutSeconds int               `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// TelegramConfig holds bot credentials and the target chat.
type TelegramConfig struct {
	Token       string `json:"token" yaml:"token"`
	ChatID      int64  `json:"chat_id" yaml:"chat_id"`
	APIEndpoint string `json:"api_endpoint" yaml:"api_endpoint"`
}

// SNSConfig holds AWS SNS specific settings. Static keys are optional; the
// default AWS credential chain is used otherwise.
type SNSConfig struct {
	TopicARN        string `json:"topic_arn" yaml:"topic_arn"`
	Region          string `json:"region" yaml:"region"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

// SQSConfig holds AWS SQS specific settings.
type SQSConfig struct {
	QueueURL        string `json:"uri" yaml:"uri"`
	Region          string `json:"region" yaml:"region"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

// PubSubConfig holds Google Cloud Pub/Sub settings.
type PubSubConfig struct {
	ProjectID       string `json:"project_id" yaml:"project_id"`
	Topic           string `json:"topic" yaml:"topic"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

// ConfigRegistry materializes notifier definitions loaded from config files
// and the environment.
type ConfigRegistry struct {
	mu        sync.RWMutex
	notifiers []NotifierConfig
	idx       map[string]NotifierConfig
}

// NewConfigRegistry validates cfgs and indexes them by id.
func NewConfigRegistry(cfgs ...NotifierConfig) (*ConfigRegistry, error) {
	reg := &ConfigRegistry{idx: make(map[string]NotifierConfig, len(cfgs))}
	for i, cfg := range cfgs {
		if err := reg.Add(cfg); err != nil {
			return nil, fmt.Errorf("notifiers[%d]: %w", i, err)
		}
	}
	return reg, nil
}

// LoadRegistry loads the notifier registry from a YAML/JSON file.
func LoadRegistry(path string) (*ConfigRegistry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("notifiers file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open notifiers file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read notifiers file: %w", err)
	}

	fileReg, err := parseNotifierRegistry(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if len(fileReg.Notifiers) == 0 {
		return nil, errors.New("notifiers file contains no notifiers entries")
	}

	return NewConfigRegistry(fileReg.Notifiers...)
}

// parseNotifierRegistry attempts to decode the notifiers file content.
func parseNotifierRegistry(data []byte, ext string) (configFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	decoders := []struct {
		name string
		ext  string
		fn   func([]byte, any) error
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		if reg, err := unmarshalNotifierRegistry(d.name, data, d.fn); err == nil {
			return reg, nil
		}
	}

	return configFile{}, errors.New("notifiers file format not recognized (expected YAML or JSON)")
}

func unmarshalNotifierRegistry(name string, data []byte, fn func([]byte, any) error) (configFile, error) {
	var reg configFile
	if err := fn(data, &reg); err != nil {
		return configFile{}, fmt.Errorf("decode %s notifiers: %w", name, err)
	}
	return reg, nil
}

// sanitizeNotifierConfig trims and normalizes the notifier config fields.
func sanitizeNotifierConfig(cfg NotifierConfig) NotifierConfig {
	cfg.ID = strings.TrimSpace(cfg.ID)
	cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))

	if cfg.Enabled == nil {
		def := true
		cfg.Enabled = &def
	}
	if cfg.Mastodon != nil {
		c := *cfg.Mastodon
		c.Instance = strings.TrimRight(strings.TrimSpace(c.Instance), "/")
		c.Token = strings.TrimSpace(c.Token)
		c.Visibility = strings.ToLower(strings.TrimSpace(c.Visibility))
		if c.Visibility == "" {
			c.Visibility = mastodonDefaultVisibility
		}
		c.TimeoutSeconds = timeoutOrDefault(c.TimeoutSeconds)
		cfg.Mastodon = &c
	}
	if cfg.Discord != nil {
		c := *cfg.Discord
		c.WebhookURL = strings.TrimSpace(c.WebhookURL)
		c.Username = strings.TrimSpace(c.Username)
		c.TimeoutSeconds = timeoutOrDefault(c.TimeoutSeconds)
		cfg.Discord = &c
	}
	if cfg.HTTP != nil {
		c := *cfg.HTTP
		c.URL = strings.TrimSpace(c.URL)
		c.Method = strings.ToUpper(strings.TrimSpace(c.Method))
		if c.Method == "" {
			c.Method = httpDefaultMethod
		}
		c.Headers = sanitizeHeaders(c.Headers)
		c.TimeoutSeconds = timeoutOrDefault(c.TimeoutSeconds)
		cfg.HTTP = &c
	}
	if cfg.Telegram != nil {
		c := *cfg.Telegram
		c.Token = strings.TrimSpace(c.Token)
		c.APIEndpoint = strings.TrimSpace(c.APIEndpoint)
		cfg.Telegram = &c
	}
	if cfg.SNS != nil {
		c := *cfg.SNS
		c.TopicARN = strings.TrimSpace(c.TopicARN)
		c.Region = strings.TrimSpace(c.Region)
		c.AccessKeyID = strings.TrimSpace(c.AccessKeyID)
		c.SecretAccessKey = strings.TrimSpace(c.SecretAccessKey)
		cfg.SNS = &c
	}
	if cfg.SQS != nil {
		c := *cfg.SQS
		c.QueueURL = strings.TrimSpace(c.QueueURL)
		c.Region = strings.TrimSpace(c.Region)
		c.AccessKeyID = strings.TrimSpace(c.AccessKeyID)
		c.SecretAccessKey = strings.TrimSpace(c.SecretAccessKey)
		cfg.SQS = &c
	}
	if cfg.PubSub != nil {
		c := *cfg.PubSub
		c.ProjectID = strings.TrimSpace(c.ProjectID)
		c.Topic = strings.TrimSpace(c.Topic)
		c.CredentialsFile = strings.TrimSpace(c.CredentialsFile)
		cfg.PubSub = &c
	}

	return cfg
}

func timeoutOrDefault(seconds int) int {
	if seconds <= 0 {
		return defaultTimeoutSeconds
	}
	return seconds
}

// sanitizeHeaders trims and removes empty headers.
func sanitizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		out[key] = val
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// validateNotifierConfig checks that required fields are present.
func validateNotifierConfig(cfg NotifierConfig) error {
	if cfg.ID == "" {
		return errors.New("id is required")
	}
	if cfg.Type == "" {
		return fmt.Errorf("type is required for notifier %q", cfg.ID)
	}

	switch cfg.Type {
	case TypeMastodon:
		if cfg.Mastodon == nil {
			return fmt.Errorf("mastodon config required for notifier %q", cfg.ID)
		}
		if cfg.Mastodon.Instance == "" || cfg.Mastodon.Token == "" {
			return fmt.Errorf("mastodon.instance and mastodon.token are required for notifier %q", cfg.ID)
		}
	case TypeDiscord:
		if cfg.Discord == nil || cfg.Discord.WebhookURL == "" {
			return fmt.Errorf("discord.webhook_url is required for notifier %q", cfg.ID)
		}
	case TypeHTTP:
		if cfg.HTTP == nil {
			return fmt.Errorf("http config required for notifier %q", cfg.ID)
		}
		if cfg.HTTP.URL == "" {
			return fmt.Errorf("http.url is required for notifier %q", cfg.ID)
		}
	case TypeTelegram:
		if cfg.Telegram == nil || cfg.Telegram.Token == "" {
			return fmt.Errorf("telegram.token is required for notifier %q", cfg.ID)
		}
		if cfg.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required for notifier %q", cfg.ID)
		}
	case TypeSNS:
		if cfg.SNS == nil || cfg.SNS.TopicARN == "" {
			return fmt.Errorf("sns.topic_arn is required for notifier %q", cfg.ID)
		}
		if cfg.SNS.Region == "" {
			return fmt.Errorf("sns.region is required for notifier %q", cfg.ID)
		}
		if (cfg.SNS.AccessKeyID == "") != (cfg.SNS.SecretAccessKey == "") {
			return fmt.Errorf("sns static credentials need both key id and secret for notifier %q", cfg.ID)
		}
	case TypeSQS:
		if cfg.SQS == nil {
			return fmt.Errorf("sqs config required for notifier %q", cfg.ID)
		}
		if cfg.SQS.QueueURL == "" {
			return fmt.Errorf("sqs.uri is required for notifier %q", cfg.ID)
		}
		if cfg.SQS.Region == "" {
			return fmt.Errorf("sqs.region is required for notifier %q", cfg.ID)
		}
		if (cfg.SQS.AccessKeyID == "") != (cfg.SQS.SecretAccessKey == "") {
			return fmt.Errorf("sqs static credentials need both key id and secret for notifier %q", cfg.ID)
		}
	case TypePubSub:
		if cfg.PubSub == nil || cfg.PubSub.ProjectID == "" || cfg.PubSub.Topic == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic are required for notifier %q", cfg.ID)
		}
	}
	return nil
}

// Add validates cfg and appends it after the existing entries.
func (r *ConfigRegistry) Add(cfg NotifierConfig) error {
	if r == nil {
		return errors.New("notifier registry is nil")
	}
	cfg = sanitizeNotifierConfig(cfg)
	if err := validateNotifierConfig(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idx == nil {
		r.idx = make(map[string]NotifierConfig)
	}
	if _, exists := r.idx[cfg.ID]; exists {
		return fmt.Errorf("duplicate notifier id %q", cfg.ID)
	}
	r.notifiers = append(r.notifiers, cfg)
	r.idx[cfg.ID] = cfg
	return nil
}

// ByID returns the notifier config by id.
func (r *ConfigRegistry) ByID(id string) (NotifierConfig, bool) {
	if r == nil {
		return NotifierConfig{}, false
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return NotifierConfig{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.idx[id]
	return cfg, ok
}

// All returns all configured notifiers in declaration order.
func (r *ConfigRegistry) All() []NotifierConfig {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]NotifierConfig, len(r.notifiers))
	copy(out, r.notifiers)
	return out
}

// Enabled returns notifiers that are enabled.
func (r *ConfigRegistry) Enabled() []NotifierConfig {
	all := r.All()
	if len(all) == 0 {
		return nil
	}

	out := make([]NotifierConfig, 0, len(all))
	for _, cfg := range all {
		if cfg.EnabledValue() {
			out = append(out, cfg)
		}
	}
	return out
}

// EnabledValue returns enabled flag defaulting to true.
func (cfg NotifierConfig) EnabledValue() bool {
	if cfg.Enabled == nil {
		return true
	}
	return *cfg.Enabled
}
