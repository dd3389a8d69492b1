package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tsawler/go-shapebias/experiment"
)

// app carries the state shared by all commands of one invocation
type app struct {
	v          *viper.Viper
	configFile string
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	setDefaults(a.v)

	root := &cobra.Command{
		Use:           "shapebias",
		Short:         "Measure the shape vs texture bias of vision models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "config file (yaml, json or toml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")

	root.AddCommand(
		newInspectCmd(a),
		newScoreCmd(a),
		newEmbedCmd(a),
		newRunCmd(a),
		newConfigCmd(a),
		newCheckpointCmd(),
		newVersionCmd(),
	)
	return root
}

// setDefaults registers every config key so environment variables can
// override keys that no file or flag mentions
func setDefaults(v *viper.Viper) {
	d := experiment.DefaultConfig()
	v.SetDefault("name", d.Name)
	v.SetDefault("epochs", d.Epochs)
	v.SetDefault("test_interval", d.TestInterval)
	v.SetDefault("regime", string(d.Regime))
	v.SetDefault("pretext_data", d.PretextData)
	v.SetDefault("pretext_classes", d.PretextClasses)
	v.SetDefault("bias_mode", string(d.BiasMode))
	v.SetDefault("max_neighbors", d.MaxNeighbors)
	v.SetDefault("finetune", d.Finetune)
	v.SetDefault("finetune_epochs", d.FinetuneEpochs)
	v.SetDefault("finetune_lr", d.FinetuneLR)
	v.SetDefault("finetune_optimizer", d.FinetuneOpt)
	v.SetDefault("finetune_schedule", d.FinetuneLRS)
	v.SetDefault("down_classes", d.DownClasses)
	v.SetDefault("temperature", d.Temperature)
	v.SetDefault("num_views", d.NumViews)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("image_size", d.ImageSize)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("seed", d.Seed)
	v.SetDefault("save_checkpoints", d.SaveCheckpoints)
	v.SetDefault("checkpoint_dir", d.CheckpointDir)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("plot_url", d.PlotURL)
}

func (a *app) init(cmd *cobra.Command) error {
	a.v.SetEnvPrefix("SHAPEBIAS")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.v.AutomaticEnv()

	// Persistent flags are merged into cmd.Flags() once parsed
	if err := a.bindFlags(cmd, map[string]string{
		"log-level":  "log_level",
		"log-format": "log_format",
	}); err != nil {
		return err
	}

	if a.configFile != "" {
		a.v.SetConfigFile(a.configFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", a.configFile, err)
		}
	}

	logger, err := experiment.NewLogger(cmd.ErrOrStderr(), a.v.GetString("log_level"), a.v.GetString("log_format"))
	if err != nil {
		return err
	}
	a.logger = logger
	if a.configFile != "" {
		logger.Debug("config loaded", slog.String("config.file", a.v.ConfigFileUsed()))
	}
	return nil
}

// bindFlags makes the named flags of cmd override config keys. Binding
// happens per invocation since several commands share keys.
func (a *app) bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for flag, key := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q", flag)
		}
		if err := a.v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// config resolves the experiment config from defaults, file, env and flags
func (a *app) config() (experiment.Config, error) {
	cfg := experiment.DefaultConfig()
	if err := a.v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
