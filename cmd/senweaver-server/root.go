package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"senweaver-server-go/internal/bootstrap"
	platformconfig "senweaver-server-go/internal/platform/config"
)

type rootFlags struct {
	configPath string
	noDotEnv   bool
}

func (f *rootFlags) options() bootstrap.Options {
	return bootstrap.Options{ConfigPath: f.configPath, DotEnv: !f.noDotEnv}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "senweaver-server",
		Short:         "SenWeaver 模型密钥池与长连接会话服务",
		SilenceUsage:  true,
		SilenceErrors: true,
		// 不带子命令时直接启动服务
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "配置文件路径，默认查找 .config.yaml / config.yaml")
	root.PersistentFlags().BoolVar(&flags.noDotEnv, "no-dotenv", false, "不加载 .env 文件")

	root.AddCommand(
		newServeCmd(flags),
		newMigrateCmd(flags),
		newConfigCmd(flags),
	)
	return root
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 WebSocket 与 HTTP 服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
}

func runServe(cmd *cobra.Command, flags *rootFlags) error {
	fmt.Fprintf(cmd.OutOrStdout(), "[%s] [INFO] [引导] 开始启动 senweaver-server...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	return bootstrap.Run(cmd.Context(), flags.options())
}

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	var rollback string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "执行或回滚数据库迁移",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rollback != "" {
				if err := bootstrap.Rollback(cmd.Context(), flags.options(), rollback); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "已回滚迁移 %s\n", rollback)
				return nil
			}

			applied, err := bootstrap.Migrate(cmd.Context(), flags.options())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "数据库已是最新版本")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "已应用迁移 %s\n", v)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rollback, "rollback", "", "回滚指定版本，例如 003_access")
	return cmd
}

func newConfigCmd(flags *rootFlags) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "配置文件工具",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "写出默认配置文件",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s 已存在，使用 --force 覆盖", path)
			}
			data, err := platformconfig.Encode(platformconfig.DefaultConfig())
			if err != nil {
				return err
			}
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已写入默认配置 %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "覆盖已存在的文件")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "打印合并默认值与环境变量后的生效配置",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, origin, err := bootstrap.LoadConfig(flags.options())
			if err != nil {
				return err
			}
			data, err := platformconfig.Encode(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n", origin)
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	configCmd.AddCommand(initCmd, showCmd)
	return configCmd
}
