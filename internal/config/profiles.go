package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/tabcast/backend/internal/engine"
	"github.com/zhouzirui/tabcast/backend/internal/service/browser"
)

// Duration 支持在 YAML 中写 "4s"、"1500ms"。
type Duration time.Duration

// UnmarshalYAML 解析 Go duration 字符串。
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// WaitProfile 是 YAML 中的一条等待策略。
type WaitProfile struct {
	Name         string   `yaml:"name"`
	Hosts        []string `yaml:"hosts"`
	WaitUntil    string   `yaml:"waitUntil"`
	SettleBudget Duration `yaml:"settleBudget"`
}

// WaitProfiles 是等待策略文件的结构；按顺序匹配，未命中使用 Default。
type WaitProfiles struct {
	Default  *WaitProfile  `yaml:"default"`
	Profiles []WaitProfile `yaml:"profiles"`
}

// LoadWaitProfiles 读取并解析 YAML 文件。
func LoadWaitProfiles(path string) (*browser.Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wait profiles: %w", err)
	}
	return ParseWaitProfiles(data)
}

// ParseWaitProfiles 把 YAML 转换为分类器。
func ParseWaitProfiles(data []byte) (*browser.Classifier, error) {
	var file WaitProfiles
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse wait profiles: %w", err)
	}

	fallback := browser.DefaultProfile()
	if file.Default != nil {
		p, err := file.Default.toProfile()
		if err != nil {
			return nil, err
		}
		if p.Name == "" {
			p.Name = "default"
		}
		fallback = p
	}

	profiles := make([]browser.Profile, 0, len(file.Profiles))
	for i, wp := range file.Profiles {
		if len(wp.Hosts) == 0 {
			return nil, fmt.Errorf("wait profile %d (%s): hosts are required", i, wp.Name)
		}
		p, err := wp.toProfile()
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return browser.NewClassifier(fallback, profiles...), nil
}

func (w WaitProfile) toProfile() (browser.Profile, error) {
	p := browser.Profile{Name: w.Name, SettleBudget: time.Duration(w.SettleBudget)}
	if p.SettleBudget <= 0 {
		return p, fmt.Errorf("wait profile %s: settleBudget must be positive", w.Name)
	}

	until, err := engine.ParseWaitUntil(w.WaitUntil)
	if err != nil {
		return p, fmt.Errorf("wait profile %s: %w", w.Name, err)
	}
	p.WaitUntil = until

	for _, pattern := range w.Hosts {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return p, fmt.Errorf("wait profile %s: host %q: %w", w.Name, pattern, err)
		}
		p.Hosts = append(p.Hosts, re)
	}
	return p, nil
}
