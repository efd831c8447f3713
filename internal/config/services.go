package config

import (
	"github.com/zhouzirui/tabcast/backend/internal/engine"
	"github.com/zhouzirui/tabcast/backend/internal/service/browser"
)

// ChromeConfig 返回引擎的启动参数。
func (c *Config) ChromeConfig() engine.ChromeConfig {
	return engine.ChromeConfig{
		ExecPath:  c.Browser.ExecPath,
		RemoteURL: c.Browser.RemoteURL,
		Headless:  c.Browser.Headless,
	}
}

// PageOptions 返回每个新标签页的默认参数。
func (c *Config) PageOptions() engine.PageOptions {
	ua := c.Browser.UserAgent
	if ua == "" {
		ua = browser.DefaultUserAgent
	}
	return engine.PageOptions{
		Viewport:       engine.Viewport{Width: c.Browser.Width, Height: c.Browser.Height},
		UserAgent:      ua,
		AcceptLanguage: c.Browser.AcceptLanguage,
		Locale:         c.Browser.Locale,
		Timezone:       c.Browser.Timezone,
	}
}

// StoreConfig 返回会话存储配置。
func (c *Config) StoreConfig() browser.StoreConfig {
	cfg := browser.DefaultStoreConfig()
	cfg.TTL = c.Session.TTL
	cfg.CreateTimeout = c.Session.CreateTimeout
	cfg.Page = c.PageOptions()
	cfg.Instance = c.Session.Instance
	return cfg
}

// DispatcherConfig 返回动作超时配置，未覆盖的项沿用默认值。
func (c *Config) DispatcherConfig() browser.DispatcherConfig {
	cfg := browser.DefaultDispatcherConfig()
	cfg.NavigateTimeout = c.Session.NavigateTimeout
	cfg.HistoryTimeout = c.Session.HistoryTimeout
	cfg.JPEGQuality = c.Session.JPEGQuality
	return cfg
}

// OneShotConfig 返回一次性截图配置。
func (c *Config) OneShotConfig() browser.OneShotConfig {
	cfg := browser.DefaultOneShotConfig()
	cfg.Page = c.PageOptions()
	cfg.NavigateTimeout = c.Session.NavigateTimeout
	return cfg
}

// Classifier 加载 WAIT_PROFILES_FILE，未配置时使用内置规则。
func (c *Config) Classifier() (*browser.Classifier, error) {
	if c.Session.WaitProfilesFile == "" {
		return browser.DefaultClassifier(), nil
	}
	return LoadWaitProfiles(c.Session.WaitProfilesFile)
}
