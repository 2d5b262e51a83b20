// Package main 提供 commrtd 通信器宿主进程
//
// commrtd 从配置文件与命令行读取 Ice.* 属性，创建通信器，
// 激活 Commrtd.Adapters 中列出的对象适配器，然后等待退出：
//   - SIGINT/SIGTERM
//   - 管理对象 Process facet 的 shutdown 请求
//
// 退出时先 Shutdown 并在 -shutdown-timeout 内等待分派完成，再 Destroy。
//
// 使用方法:
//
//	commrtd -config server.cfg -log-level debug --Ice.Admin.Endpoints="tcp -h 127.0.0.1 -p 9999"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dep2p/go-commrt"
	utillog "github.com/dep2p/go-commrt/internal/util/logger"
	"github.com/dep2p/go-commrt/pkg/lib/log"
)

var logger = log.Logger("commrt/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
// --Ice.X=Y 形式的属性选项在 flag 解析之前被消费，其余参数交给 flag。
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	configFile      = flag.String("config", "", "配置文件路径（逗号分隔多个）")
	shutdownTimeout = flag.Duration("shutdown-timeout", 10*time.Second, "等待分派完成的最长时间")
	showVersion     = flag.Bool("version", false, "显示版本信息")
	logLevel        = flag.String("log-level", "", "日志级别: trace、debug、info、warn、error")
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var rest []string
	if err := commrt.NewProperties().ParseArgs(args, &rest); err != nil {
		return fmt.Errorf("解析属性选项失败: %w", err)
	}
	if err := flag.CommandLine.Parse(rest); err != nil {
		return err
	}

	if *showVersion {
		fmt.Println(commrt.VersionInfo())
		return nil
	}
	if *logLevel != "" {
		lvl, err := utillog.ParseLevel(*logLevel)
		if err != nil {
			return err
		}
		utillog.SetGlobalLevel(lvl)
		log.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := buildOptions(args)
	logger.Info("启动 commrtd", "version", commrt.Version, "commit", commrt.GitCommit)

	comm, err := commrt.Initialize(ctx, opts...)
	if err != nil {
		return fmt.Errorf("初始化通信器失败: %w", err)
	}
	defer comm.Destroy()

	if err := activateAdapters(ctx, comm); err != nil {
		return err
	}
	printInfo(ctx, comm)

	shutdown := make(chan error, 1)
	go func() { shutdown <- comm.WaitForShutdown(context.Background()) }()

	select {
	case <-ctx.Done():
		fmt.Println("\n收到退出信号，正在关闭...")
		comm.Shutdown()
		waitCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
		defer cancel()
		if err := comm.WaitForShutdown(waitCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("等待适配器停用失败", "error", err)
		}
	case err := <-shutdown:
		if err != nil {
			logger.Warn("等待关闭失败", "error", err)
		}
		fmt.Println("已收到管理关闭请求")
	}
	return nil
}

// activateAdapters 创建并激活 Commrtd.Adapters 中列出的适配器
func activateAdapters(ctx context.Context, comm *commrt.Communicator) error {
	for _, name := range comm.Properties().GetAsList(adaptersProperty) {
		a, err := comm.CreateObjectAdapter(name)
		if err != nil {
			return fmt.Errorf("创建适配器 %s 失败: %w", name, err)
		}
		if err := a.Activate(ctx); err != nil {
			return fmt.Errorf("激活适配器 %s 失败: %w", name, err)
		}
		logger.Info("适配器已激活", "adapter", name, "endpoints", len(a.Endpoints()))
	}
	return nil
}

func printInfo(ctx context.Context, comm *commrt.Communicator) {
	fmt.Printf("📦 %s\n", commrt.VersionInfo())
	fmt.Printf("通信器 ID: %s\n", comm.ID())
	if prx, err := comm.GetAdmin(ctx); err == nil && prx != nil {
		fmt.Printf("管理对象: %s\n", prx)
	}
	fmt.Println("按 Ctrl+C 退出")
}
