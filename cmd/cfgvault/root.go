package main

import (
	"io"
	"os"
	"os/user"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/assetforge/cfgvault/pkg/config"
	"github.com/assetforge/cfgvault/pkg/engine"
	"github.com/assetforge/cfgvault/pkg/logging"
	"github.com/assetforge/cfgvault/pkg/recovery"
	"github.com/assetforge/cfgvault/pkg/versioning"
)

// cli carries the state shared by every subcommand of one invocation.
type cli struct {
	v   *viper.Viper
	out io.Writer
	fs  afero.Fs

	cfgFile string

	cfg    *config.Config
	logger *zap.Logger
	engine *engine.Engine
}

func newCLI(out io.Writer) *cli {
	return &cli{v: viper.New(), out: out, fs: afero.NewOsFs()}
}

func newRootCmd(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cfgvault",
		Short: "Version control for industrial device configurations",
		Long: `cfgvault stores encrypted, compressed configuration files for PLCs,
drives and other plant assets, and moves each version through the
Draft, Silver, Approved, Golden and Archived lifecycle.

Branches hold experimental edits apart from the main line, and export
writes a verified copy of any version back to disk for recovery.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.open,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (YAML)")
	flags.String("db-type", "", "database type: sqlite, postgres or mysql")
	flags.String("db-dsn", "", "database connection string")
	flags.String("user", "", "acting user (default: config identity, then the OS user)")
	flags.String("role", "", "acting role: Engineer or Administrator")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.StringP("output", "o", "table", "output format: table, json, yaml")

	for _, name := range []string{"db-type", "db-dsn", "user", "role", "log-level", "output"} {
		_ = c.v.BindPFlag(name, flags.Lookup(name))
	}
	c.v.SetEnvPrefix("CFGVAULT")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	rootCmd.AddCommand(newAssetCmd(c))
	rootCmd.AddCommand(newVersionCmd(c))
	rootCmd.AddCommand(newBranchCmd(c))
	rootCmd.AddCommand(newExportCmd(c))
	rootCmd.AddCommand(newAuditCmd(c))
	return rootCmd
}

// open loads configuration, applies flag overrides and opens the engine.
func (c *cli) open(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return versioning.E(versioning.KindValidation, "load config", "", err)
	}
	if s := c.v.GetString("db-type"); s != "" {
		cfg.Database.Type = s
	}
	if s := c.v.GetString("db-dsn"); s != "" {
		cfg.Database.DSN = s
	}
	if s := c.v.GetString("user"); s != "" {
		cfg.Identity.User = s
	}
	if s := c.v.GetString("role"); s != "" {
		cfg.Identity.Role = s
	}
	if s := c.v.GetString("log-level"); s != "" {
		cfg.Logging.Level = s
	}
	if cfg.Identity.User == "" {
		cfg.Identity.User = osUser()
	}
	if err := cfg.Validate(); err != nil {
		return versioning.E(versioning.KindValidation, "load config", "", err)
	}

	logger, err := logging.New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return versioning.E(versioning.KindValidation, "configure logging", "", err)
	}

	eng, err := engine.Open(cmd.Context(), cfg, logger,
		engine.WithExportOptions(recovery.WithFs(c.fs)))
	if err != nil {
		_ = logger.Sync()
		return versioning.WrapStorage("open database", err)
	}
	c.cfg, c.logger, c.engine = cfg, logger, eng
	return nil
}

func (c *cli) close() error {
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	if c.engine == nil {
		return nil
	}
	err := c.engine.Close()
	c.engine = nil
	return err
}

func (c *cli) outputFormat() string {
	return c.v.GetString("output")
}

// readInput reads a file through the CLI filesystem, or stdin for "-".
func (c *cli) readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return nil, versioning.E(versioning.KindValidation, "read input", path, err)
	}
	return data, nil
}

func osUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
