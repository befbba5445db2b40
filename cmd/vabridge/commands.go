package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/vabridge/internal/app"
	"github.com/MrWong99/vabridge/internal/config"
	"github.com/MrWong99/vabridge/pkg/detect/script"
	"github.com/MrWong99/vabridge/pkg/intent"
)

// newRootCmd builds the command tree. Each call returns a fresh tree so tests
// can execute it with their own arguments.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "vabridge",
		Short:         "Voice assistant detection bridge",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to the YAML configuration file (defaults apply when empty)")

	serveCmd := func(use, short string, role app.Role) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), configPath, role)
			},
		}
	}
	root.AddCommand(
		serveCmd("run", "Run detection and application in one process", app.RoleAll),
		serveCmd("producer", "Run the detection side and dial the consumer", app.RoleProducer),
		serveCmd("consumer", "Run the application side and serve the producer link", app.RoleConsumer),
		newValidateCmd(&configPath),
	)
	return root
}

func newValidateCmd(configPath *string) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration and the files it references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			var errs []error
			switch role {
			case "", "all":
			case "producer", "consumer":
				errs = append(errs, config.ValidateSplit(cfg, role == "producer"))
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			if path := cfg.Assistant.ModelFile; path != "" {
				_, err := intent.LoadModel(path)
				errs = append(errs, err)
			}
			if path := cfg.Scenario.Timeline; path != "" {
				_, err := script.Load(path)
				errs = append(errs, err)
			}
			if err := errors.Join(errs...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK (mode %s, transport %s)\n",
				cfg.Assistant.Mode, cfg.Mailbox.Transport)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "also check the settings of one split role: producer or consumer")
	return cmd
}

// loadConfig loads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found", path)
	}
	return cfg, err
}
