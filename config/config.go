package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"bdsinspector/locate"
	"bdsinspector/monitor"
)

// ErrUnknownDimension 命令配置中出现了未知的维度名
var ErrUnknownDimension = errors.New("unknown dimension")

// Config 运行参数：先从环境变量读取默认值，再由命令行参数覆盖
type Config struct {
	Executable     string        `env:"INSPECTOR_EXECUTABLE"`
	Port           int           `env:"INSPECTOR_PORT" envDefault:"3000"`
	Overworld      string        `env:"INSPECTOR_ENTITY_NAME_OVERWORLD"`
	Nether         string        `env:"INSPECTOR_ENTITY_NAME_NETHER"`
	TheEnd         string        `env:"INSPECTOR_ENTITY_NAME_THE_END"`
	Ignore         []string      `env:"INSPECTOR_IGNORE" envSeparator:","`
	CommandSetting string        `env:"INSPECTOR_COMMAND_SETTING"`
	LogFile        string        `env:"INSPECTOR_LOG_FILE" envDefault:"inspector.log"`
	Debug          bool          `env:"INSPECTOR_DEBUG" envDefault:"false"`
	Banner         string        `env:"INSPECTOR_BANNER" envDefault:"[INFO] Server started."`
	PollInterval   time.Duration `env:"INSPECTOR_POLL_INTERVAL" envDefault:"500ms"`
	ReuseHints     bool          `env:"INSPECTOR_REUSE_HINTS" envDefault:"false"`
	TargetAccuracy int           `env:"INSPECTOR_TARGET_ACCURACY" envDefault:"4"`
	MaxIterations  int           `env:"INSPECTOR_MAX_ITERATIONS" envDefault:"32"`
	WorldSize      int           `env:"INSPECTOR_WORLD_SIZE" envDefault:"2000"`
	// ResponseTimeout 为 0 时不设超时
	ResponseTimeout time.Duration `env:"INSPECTOR_RESPONSE_TIMEOUT" envDefault:"5s"`
	SettleDelay     time.Duration `env:"INSPECTOR_SETTLE_DELAY" envDefault:"10ms"`
	QueueSize       int           `env:"INSPECTOR_QUEUE_SIZE" envDefault:"256"`
}

// Load 从环境变量加载配置
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate 检查命令行与环境变量合并后的配置
func (c Config) Validate() error {
	if c.Executable == "" {
		return errors.New("executable is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive, got %d", c.QueueSize)
	}
	return c.Search().Validate()
}

// Anchors 维度到锚点实体名的映射，未配置的维度不出现
func (c Config) Anchors() map[locate.Dimension]string {
	anchors := make(map[locate.Dimension]string, 3)
	for d, name := range map[locate.Dimension]string{
		locate.Overworld: c.Overworld,
		locate.Nether:    c.Nether,
		locate.TheEnd:    c.TheEnd,
	} {
		if name != "" {
			anchors[d] = name
		}
	}
	return anchors
}

// Excluded 不参与定位的名字：全部锚点实体加上忽略列表
func (c Config) Excluded() []string {
	var names []string
	for _, d := range locate.Dimensions {
		if a, ok := c.Anchors()[d]; ok {
			names = append(names, a)
		}
	}
	for _, n := range c.Ignore {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Search 搜索参数
func (c Config) Search() locate.SearchConfig {
	s := locate.DefaultSearchConfig()
	s.TargetAccuracy = c.TargetAccuracy
	s.MaxIterations = c.MaxIterations
	s.WorldSize = c.WorldSize
	return s
}

// CommandSetting 定时命令配置文件
type CommandSetting struct {
	Commands []Command `json:"commands" yaml:"commands"`
}

// Command 单条定时命令，Interval 单位为毫秒
type Command struct {
	Dimension string `json:"dimension" yaml:"dimension"`
	Command   string `json:"command" yaml:"command"`
	Interval  int64  `json:"interval" yaml:"interval"`
}

// LoadCommandSetting 读取定时命令配置。.yaml/.yml 按 YAML 解析，其他扩展名按 JSONC 解析
func LoadCommandSetting(path string) (CommandSetting, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CommandSetting{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var setting CommandSetting
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &setting)
	default:
		err = json.Unmarshal(jsonc.ToJSON(data), &setting)
	}
	if err != nil {
		return CommandSetting{}, fmt.Errorf("%s: %w", path, err)
	}
	if _, err := setting.Entries(); err != nil {
		return CommandSetting{}, fmt.Errorf("%s: %w", path, err)
	}
	return setting, nil
}

// Entries 转换为执行器使用的条目
func (s CommandSetting) Entries() ([]monitor.CommandEntry, error) {
	entries := make([]monitor.CommandEntry, 0, len(s.Commands))
	for i, c := range s.Commands {
		dim, err := locate.ParseDimension(c.Dimension)
		if err != nil {
			return nil, fmt.Errorf("commands[%d]: %w: %q", i, ErrUnknownDimension, c.Dimension)
		}
		entries = append(entries, monitor.CommandEntry{
			Dimension: dim,
			Command:   c.Command,
			Interval:  time.Duration(c.Interval) * time.Millisecond,
		})
	}
	return entries, nil
}

// Exitf 向 stderr 输出错误并以状态码 1 退出
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
