package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"homerobot/config"
	"homerobot/log"
)

var (
	cfgFile string
	v       = config.NewViper()
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "homerobot",
	Short: "Waypoint driving for a phone-tracked home robot",
	Long: `homerobot links a robot and a controller device through a relay.

  homerobot relay        run the relay server
  homerobot robot        drive the robot (or a simulator) from received waypoints
  homerobot controller   place waypoints and watch the robot`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./homerobot.yml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log output format (json or text)")
	pf.String("room", "home", "room shared by the robot and the controller")
	pf.String("peer-id", "", "peer id on the relay (random when empty)")
	pf.String("transport", "websocket", "transport: websocket, webrtc or nats")
	pf.String("relay-url", "http://localhost:3000", "base URL of the relay server")
	pf.String("nats-url", "nats://127.0.0.1:4222", "NATS server URL for the nats transport")

	bindFlags(pf, map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
		"room":       "transport.room",
		"peer-id":    "transport.peer-id",
		"transport":  "transport.kind",
		"relay-url":  "transport.relay-url",
		"nats-url":   "transport.nats-url",
	})

	rootCmd.AddCommand(newRelayCmd())
	rootCmd.AddCommand(newRobotCmd())
	rootCmd.AddCommand(newControllerCmd())
}

// bindFlags binds each flag to its viper key so that flags win over the
// config file and HOMEROBOT_* variables.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "could not bind flag %s: %v\n", name, err)
		}
	}
}

// initConfig loads .env, the config file and the environment, then sets up logging.
func initConfig(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "could not load .env:", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("homerobot")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = loaded

	if err := log.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	if used := v.ConfigFileUsed(); used != "" {
		log.Named("config").Info("using config file", zap.String("path", used))
	}
	return nil
}
