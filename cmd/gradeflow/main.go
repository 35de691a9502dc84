package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gradeflow/internal/config"
	"gradeflow/internal/store"
)

const (
	exitOK                = 0
	exitError             = 1
	exitUsage             = 2
	exitNeedsConfirmation = 3
)

// codedError 携带退出码的错误
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

// app 命令共享的运行环境
type app struct {
	configPath string
	verbose    bool

	cfg     *config.AppConfig
	dataDir string
	logger  *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
	}
	os.Exit(exitCode(err))
}

// exitCode 错误对应的进程退出码
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitError
}

// usageArgs 参数个数错误按用法错误退出
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return withCode(exitUsage, fn(cmd, args))
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "gradeflow",
		Short:         "成绩单导入工具：自动识别表头与结构，校验后写入数据库",
		SilenceUsage:  true,
		SilenceErrors: true,
		// 未知子命令走参数校验，按用法错误退出
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.HasParent() {
				return nil
			}
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return withCode(exitUsage, err)
	})
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "配置文件路径 (默认为可执行文件同目录的 config.toml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "输出调试日志")

	root.AddCommand(
		newServeCmd(a),
		newAnalyzeCmd(a),
		newImportCmd(a),
		newTemplateCmd(a),
		newExportCmd(a),
		newStatsCmd(a),
	)
	return root
}

// init 加载配置、准备数据目录与日志
func (a *app) init() error {
	var (
		cfg *config.AppConfig
		err error
	)
	if a.configPath != "" {
		cfg, _, err = config.LoadFile(a.configPath)
	} else {
		cfg, _, err = config.LoadConfigWithInfo()
	}
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("加载配置失败: %w", err))
	}
	a.cfg = cfg

	dataDir, err := config.EnsureDataDir(cfg)
	if err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}
	a.dataDir = dataDir

	a.logger, err = newLogger(a.verbose || cfg.Server.DevMode)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// openStore 按配置打开存储
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, store.Options{
		Driver:         a.cfg.Database.Driver,
		DSN:            config.DatabaseDSN(a.cfg, a.dataDir),
		MaxConns:       a.cfg.Database.MaxConns,
		SimpleProtocol: a.cfg.Database.SimpleProtocol,
		AutoMigrate:    a.cfg.Database.AutoMigrate,
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	a.logger.Debug("store opened", zap.String("driver", a.cfg.Database.Driver))
	return st, nil
}
