package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"yqhp/loadgen/internal/config"
)

const maskedSecret = "******"

// configCmd 打印合并后的生效配置
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "打印生效配置",
	Long:  `按 默认值 < 配置文件 < 环境变量 < --set 的顺序合并后输出 YAML，密钥类字段会被遮盖。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return writeConfig(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func writeConfig(w io.Writer, cfg *config.Config) error {
	shown := *cfg
	if shown.Server.APIKey != "" {
		shown.Server.APIKey = maskedSecret
	}
	if shown.History.RedisPassword != "" {
		shown.History.RedisPassword = maskedSecret
	}
	data, err := shown.Serialize()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
