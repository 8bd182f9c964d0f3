// Package app 管理进程生命周期：启动服务器与后台任务，收到信号或任一组件退出时
// 依次关闭服务器、执行关闭函数。
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kochabx/vidchat/log"
	"github.com/kochabx/vidchat/transport"
)

var (
	ErrAlreadyStarted = errors.New("application already started")
	ErrClosePanic     = errors.New("close function panicked")
)

// Application 管理服务器、后台任务和关闭函数的生命周期
type Application struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          *log.Logger
	shutdownTimeout time.Duration
	signals         []os.Signal
	servers         []transport.Server
	background      []Background
	closeFuncs      []CloseFunc
	closeTimeout    time.Duration
	mu              sync.RWMutex
	started         bool
}

// Background 随应用运行的后台任务，ctx 取消时应返回
type Background struct {
	Name string
	Run  func(ctx context.Context) error
}

// CloseFunc 具有可选超时的关闭函数
type CloseFunc struct {
	Name    string
	Fn      func(context.Context) error
	Timeout time.Duration
}

type Option func(*Application)

// WithContext 设置应用的根上下文
func WithContext(ctx context.Context) Option {
	return func(app *Application) {
		if ctx != nil {
			app.ctx, app.cancel = context.WithCancel(ctx)
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(app *Application) {
		if logger != nil {
			app.logger = logger
		}
	}
}

// WithShutdownTimeout 设置服务器关闭的超时时间
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(app *Application) {
		if timeout > 0 {
			app.shutdownTimeout = timeout
		}
	}
}

// WithCloseTimeout 设置关闭函数的默认超时时间
func WithCloseTimeout(timeout time.Duration) Option {
	return func(app *Application) {
		if timeout > 0 {
			app.closeTimeout = timeout
		}
	}
}

// WithSignals 设置用于优雅关闭的自定义信号
func WithSignals(signals ...os.Signal) Option {
	return func(app *Application) {
		if len(signals) > 0 {
			app.signals = make([]os.Signal, len(signals))
			copy(app.signals, signals)
		}
	}
}

// WithServers 向应用添加服务器
func WithServers(servers ...transport.Server) Option {
	return func(app *Application) {
		for _, server := range servers {
			if server != nil {
				app.servers = append(app.servers, server)
			}
		}
	}
}

// WithBackground 添加后台任务
func WithBackground(name string, run func(ctx context.Context) error) Option {
	return func(app *Application) {
		if run != nil {
			app.background = append(app.background, Background{Name: name, Run: run})
		}
	}
}

// WithClose 添加关闭函数。关闭函数按注册的逆序依次执行，后注册的先关闭。
func WithClose(name string, fn func(context.Context) error, timeout time.Duration) Option {
	return func(app *Application) {
		if fn == nil {
			app.logger.Warn().Str("name", name).Msg("nil close function ignored")
			return
		}
		app.closeFuncs = append(app.closeFuncs, app.closeFunc(name, fn, timeout))
	}
}

// New 使用给定选项创建新的应用实例
func New(options ...Option) *Application {
	app := &Application{
		logger:          log.G,
		shutdownTimeout: 30 * time.Second,
		closeTimeout:    30 * time.Second,
		signals:         []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT},
	}
	app.ctx, app.cancel = context.WithCancel(context.Background())

	for _, opt := range options {
		opt(app)
	}

	return app
}

func (app *Application) closeFunc(name string, fn func(context.Context) error, timeout time.Duration) CloseFunc {
	if timeout <= 0 {
		timeout = app.closeTimeout
	}
	return CloseFunc{Name: name, Fn: fn, Timeout: timeout}
}

// RegisterClose 在运行时添加关闭函数
func (app *Application) RegisterClose(name string, fn func(context.Context) error, timeout time.Duration) error {
	if fn == nil {
		return errors.New("close function cannot be nil")
	}

	app.mu.Lock()
	defer app.mu.Unlock()
	app.closeFuncs = append(app.closeFuncs, app.closeFunc(name, fn, timeout))
	return nil
}

// Start 启动所有服务器与后台任务并阻塞，直到收到信号、Stop 被调用或任一组件出错。
// 返回前总会执行关闭函数；返回值为第一个组件错误。
func (app *Application) Start() error {
	app.mu.Lock()
	if app.started {
		app.mu.Unlock()
		return ErrAlreadyStarted
	}
	app.started = true
	servers := append([]transport.Server(nil), app.servers...)
	background := append([]Background(nil), app.background...)
	signals := append([]os.Signal(nil), app.signals...)
	app.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)
	defer signal.Stop(sigCh)

	eg, egCtx := errgroup.WithContext(app.ctx)

	for _, server := range servers {
		eg.Go(server.Run)
		eg.Go(func() error {
			<-egCtx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	for _, bg := range background {
		eg.Go(func() error {
			app.logger.Debug().Str("task", bg.Name).Msg("background task started")
			err := bg.Run(egCtx)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			if err != nil {
				app.logger.Error().Err(err).Str("task", bg.Name).Msg("background task failed")
			}
			return err
		})
	}

	eg.Go(func() error {
		select {
		case sig := <-sigCh:
			app.logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			app.cancel()
		case <-egCtx.Done():
		}
		return nil
	})

	err := eg.Wait()
	app.runCloseTasks()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop 优雅地停止应用
func (app *Application) Stop() {
	app.cancel()
}

// runCloseTasks 逆序执行关闭函数，单个失败不影响后续
func (app *Application) runCloseTasks() {
	app.mu.RLock()
	closeFuncs := append([]CloseFunc(nil), app.closeFuncs...)
	app.mu.RUnlock()

	for i := len(closeFuncs) - 1; i >= 0; i-- {
		_ = app.runCloseTask(closeFuncs[i])
	}
}

// runCloseTask 执行单个带超时的关闭函数
func (app *Application) runCloseTask(close CloseFunc) error {
	ctx, cancel := context.WithTimeout(context.Background(), close.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				app.logger.Error().Interface("panic", r).Str("close", close.Name).Msg("close function panicked")
				done <- ErrClosePanic
			}
		}()
		done <- close.Fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			app.logger.Error().Err(err).Str("close", close.Name).Msg("close function failed")
		}
		return err
	case <-ctx.Done():
		app.logger.Warn().Str("close", close.Name).Msg("close function timed out")
		return ctx.Err()
	}
}

// Info 返回应用状态信息
func (app *Application) Info() ApplicationInfo {
	app.mu.RLock()
	defer app.mu.RUnlock()

	return ApplicationInfo{
		Started:         app.started,
		ServerCount:     len(app.servers),
		BackgroundCount: len(app.background),
		CloseCount:      len(app.closeFuncs),
	}
}

// ApplicationInfo 提供应用状态信息
type ApplicationInfo struct {
	Started         bool `json:"started"`
	ServerCount     int  `json:"server_count"`
	BackgroundCount int  `json:"background_count"`
	CloseCount      int  `json:"close_count"`
}
