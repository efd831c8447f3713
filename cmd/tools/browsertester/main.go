package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/tabcast/backend/internal/config"
	"github.com/zhouzirui/tabcast/backend/internal/engine"
	"github.com/zhouzirui/tabcast/backend/internal/logging"
	model "github.com/zhouzirui/tabcast/backend/internal/model/browser"
	"github.com/zhouzirui/tabcast/backend/internal/service/browser"
)

func main() {
	logger := logging.New(logging.Config{Level: "debug", Format: "console"})
	defer func() { _ = logger.Sync() }()

	if err := godotenv.Load(); err != nil {
		logger.Warn("无法加载 .env，改用系统环境变量", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("配置加载失败", zap.Error(err))
	}

	mode := flag.String("mode", "", "测试模式: oneshot 或 session")
	target := flag.String("url", "", "要打开的页面地址")
	outputPath := flag.String("out", "", "截图输出路径 (默认根据模式自动生成)")
	width := flag.Int("width", 0, "oneshot 视口宽度，0 表示使用配置")
	height := flag.Int("height", 0, "oneshot 视口高度，0 表示使用配置")
	full := flag.Bool("full", false, "oneshot 截取整页")
	actions := flag.String("actions", "", "session 模式下导航后依次执行的动作，例如 \"key:Control+a,type:hello,scroll,refresh\"")
	timeout := flag.Duration("timeout", 90*time.Second, "整体超时时间")

	flag.Parse()

	if *mode != "oneshot" && *mode != "session" {
		flag.Usage()
		logger.Fatal("请通过 -mode=oneshot 或 -mode=session 指定测试模式")
	}
	if strings.TrimSpace(*target) == "" {
		logger.Fatal("需要通过 -url 指定页面地址")
	}

	eng := engine.NewChrome(cfg.ChromeConfig(), logger)
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "oneshot":
		runOneShot(ctx, logger, eng, cfg, *target, *width, *height, *full, *outputPath)
	case "session":
		runSession(ctx, logger, eng, cfg, *target, *actions, *outputPath)
	}
}

func runOneShot(ctx context.Context, logger *zap.Logger, eng engine.Engine, cfg *config.Config, target string, width, height int, full bool, outputPath string) {
	svc := browser.NewOneShot(eng, cfg.OneShotConfig(), logger)

	res, err := svc.Capture(ctx, browser.OneShotRequest{URL: target, Width: width, Height: height, Delay: -1, Full: full})
	if err != nil {
		logger.Fatal("截图失败", zap.Error(err))
	}
	if outputPath == "" {
		outputPath = fmt.Sprintf("oneshot-%d.png", time.Now().Unix())
	}
	writeFrame(logger, outputPath, res)
}

func runSession(ctx context.Context, logger *zap.Logger, eng engine.Engine, cfg *config.Config, target, actions, outputPath string) {
	classifier, err := cfg.Classifier()
	if err != nil {
		logger.Fatal("等待策略加载失败", zap.Error(err))
	}
	store := browser.NewStore(eng, cfg.StoreConfig(), logger)
	defer func() { _ = store.Close(context.Background()) }()
	dispatcher := browser.NewDispatcher(store, browser.NewPolicy(logger), classifier, cfg.DispatcherConfig(), logger)

	steps, err := parseSteps(actions)
	if err != nil {
		logger.Fatal("动作解析失败", zap.Error(err))
	}
	steps = append([]model.Action{{Kind: model.ActionNavigate, URL: target}}, steps...)

	sid := fmt.Sprintf("manual-%d", time.Now().UnixNano())
	if outputPath == "" {
		outputPath = sid
	}
	for i, step := range steps {
		start := time.Now()
		res, err := dispatcher.Dispatch(ctx, sid, step)
		if err != nil {
			logger.Fatal("动作执行失败", zap.Int("step", i), zap.String("action", string(step.Kind)), zap.Error(err))
		}
		logger.Info("动作完成",
			zap.Int("step", i),
			zap.String("action", string(step.Kind)),
			zap.String("url", res.URL),
			zap.String("title", res.Title),
			zap.Duration("elapsed", time.Since(start)),
		)
		writeFrame(logger, fmt.Sprintf("%s-%02d-%s.jpg", outputPath, i, step.Kind), res)
	}
}

// parseSteps reads "kind[:arg]" items separated by commas. The argument is
// the key combo, the text, or "x;y" for click.
func parseSteps(raw string) ([]model.Action, error) {
	var steps []model.Action
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, arg, _ := strings.Cut(item, ":")
		kind, err := model.ParseActionKind(name)
		if err != nil {
			return nil, err
		}
		act := model.Action{Kind: kind}
		switch kind {
		case model.ActionKey:
			act.Key = arg
		case model.ActionType:
			act.Text = arg
		case model.ActionNavigate:
			act.URL = arg
		case model.ActionClick:
			if _, err := fmt.Sscanf(arg, "%g;%g", &act.X, &act.Y); err != nil {
				return nil, fmt.Errorf("click needs x;y, got %q", arg)
			}
		}
		steps = append(steps, act)
	}
	return steps, nil
}

func writeFrame(logger *zap.Logger, path string, res *model.Result) {
	if err := os.WriteFile(path, res.Image, 0o644); err != nil {
		logger.Fatal("写入截图失败", zap.String("path", path), zap.Error(err))
	}
	logger.Info("截图已保存", zap.String("path", path), zap.Int("bytes", len(res.Image)), zap.String("contentType", res.ContentType))
}
