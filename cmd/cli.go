package cmd

import (
	"fmt"
	"os"
	"time"

	"seektune/internal/config"
	"seektune/pkg/build"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Commands understood by Run. The empty command is the TUI.
const (
	CommandDevices     = "devices"
	CommandListen      = "listen"
	CommandDownload    = "download"
	CommandFingerprint = "fingerprint"
	CommandSongs       = "songs"
	CommandConfigShow  = "config show"
)

// DefaultWait bounds how long listen and songs wait for the server.
const DefaultWait = 30 * time.Second

// Options is the parsed command line.
type Options struct {
	Config  *config.Config
	Command string
	Args    []string
	TUIMode bool
	Verbose bool

	Fingerprint bool          // download: start fingerprinting when offered
	Wait        time.Duration // listen, songs: how long to wait for a reply
}

// NeedsClient reports whether the command talks to the matching service.
func (o *Options) NeedsClient() bool {
	switch o.Command {
	case CommandDevices, CommandConfigShow:
		return false
	}
	return o.TUIMode || o.Command != ""
}

// ParseArgs parses os.Args into Options.
func ParseArgs() (*Options, error) {
	return parse(os.Args[1:])
}

func parse(args []string) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	options := &Options{Wait: DefaultWait}
	v := viper.New()
	var configPath string

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.VersionString(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configPath)
			if err != nil {
				return err
			}
			if options.Verbose {
				cfg.LogLevel = "debug"
			}
			options.Config = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			options.TUIMode = true
			return nil
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	command := func(name string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			options.Command = name
			options.Args = args
			return nil
		}
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "devices",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE:  command(CommandDevices),
	})

	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Capture once from the selected source and print the matches",
		Args:  cobra.NoArgs,
		RunE:  command(CommandListen),
	}
	listenCmd.Flags().DurationVarP(&options.Wait, "wait", "w", DefaultWait,
		"How long to wait for matches after the recording is sent")
	rootCmd.AddCommand(listenCmd)

	downloadCmd := &cobra.Command{
		Use:   "download <url>",
		Short: "Add a song to the library from a URL and follow its progress",
		Args:  cobra.ExactArgs(1),
		RunE:  command(CommandDownload),
	}
	downloadCmd.Flags().BoolVarP(&options.Fingerprint, "fingerprint", "f", false,
		"Create fingerprints as soon as the download completes")
	rootCmd.AddCommand(downloadCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "fingerprint [filename]",
		Short: "Fingerprint a downloaded song (the latest one when no filename is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  command(CommandFingerprint),
	})

	songsCmd := &cobra.Command{
		Use:   "songs",
		Short: "Print the number of songs in the library",
		Args:  cobra.NoArgs,
		RunE:  command(CommandSongs),
	}
	songsCmd.Flags().DurationVarP(&options.Wait, "wait", "w", DefaultWait,
		"How long to wait for the server")
	rootCmd.AddCommand(songsCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE:  command(CommandConfigShow),
	})
	rootCmd.AddCommand(configCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "",
		"Path to a YAML config file (default seektune.yaml or ~/.config/seektune.yaml)")
	flags.String("server", config.DefaultServerURL,
		"Base URL of the matching service")
	flags.String("source", config.DefaultSource,
		"Capture source: device (system audio) or mic")
	flags.IntP("device", "d", config.DefaultInputDevice,
		"Microphone device ID. Use the 'devices' command to see available devices.")
	flags.Bool("dry-run", false,
		"Log outbound events instead of connecting to the server")
	flags.BoolVarP(&options.Verbose, "verbose", "v", false,
		"Show verbose output")

	for key, flag := range map[string]string{
		"server_url":           "server",
		"capture.source":       "source",
		"capture.input_device": "device",
		"transport.dry_run":    "dry-run",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}

	// Execute the CLI
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}

	return options, nil
}
