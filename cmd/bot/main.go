package main

import (
	"os"

	"ladder-bot-go/internal/logger"
	"ladder-bot-go/internal/models"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	// 在加载配置之前先用默认配置初始化日志
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Debug("未找到 .env 文件，将从系统环境变量中读取。")
	}

	root := &cobra.Command{
		Use:           "ladder-bot",
		Short:         "Price ladder trading bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "path to the config file (json or yaml)")
	root.AddCommand(newRunCmd(), newBacktestCmd(), newStatusCmd(), newTokenCmd())

	if err := root.Execute(); err != nil {
		logger.S().Errorf("%v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}
