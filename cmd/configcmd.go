package main

import (
	"io"
	"net/url"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadwatch/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeConfigYAML(os.Stdout, cfg)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

const masked = "****"

func writeConfigYAML(w io.Writer, c *config.Config) error {
	out := redactConfig(*c)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return eris.Wrap(err, "encode config")
	}
	return enc.Close()
}

// redactConfig masks credentials. c is a copy; maps are shared but not
// modified.
func redactConfig(c config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = masked
		}
	}
	mask(&c.Reddit.ClientSecret)
	mask(&c.Reddit.RefreshToken)
	mask(&c.Anthropic.Key)
	mask(&c.Email.BrevoAPIKey)
	mask(&c.Monitoring.WebhookURL)

	if u, err := url.Parse(c.Store.DatabaseURL); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			c.Store.DatabaseURL = u.Redacted()
		}
	}
	return c
}
