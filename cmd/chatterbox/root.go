package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/npezzotti/chatterbox/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	apiURLKey               = "api-url"
	socketURLKey            = "socket-url"
	sessionFileKey          = "session-file"
	debugAddrKey            = "debug-addr"
	requestTimeoutKey       = "request-timeout"
	maxReconnectAttemptsKey = "max-reconnect-attempts"
	reconnectDelayKey       = "reconnect-delay"
	roomPollIntervalKey     = "room-poll-interval"
	verboseKey              = "verbose"

	defaultAPIURL = "http://localhost:5000"
	envPrefix     = "chatterbox"
)

// cli carries what every subcommand shares: the io streams, the viper
// instance and, once the persistent pre-run has finished, the app.
type cli struct {
	in      io.Reader
	out     io.Writer
	v       *viper.Viper
	cfgFile string
	app     *app
}

// execute runs the command line in args and releases whatever the command
// set up, on success or failure.
func execute(args []string, in io.Reader, out, errOut io.Writer) error {
	c := &cli{in: in, out: out, v: viper.New()}
	cmd := c.rootCmd(errOut)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	if c.app != nil {
		err = errors.Join(err, c.app.close())
	}
	return err
}

func (c *cli) rootCmd(errOut io.Writer) *cobra.Command {

	rootCmd := &cobra.Command{
		Use:           "chatterbox",
		Short:         "Terminal client for ChatterBox audio and text chat rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := c.initConfig(); err != nil {
				return err
			}

			cfg, err := c.loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			logOut := io.Discard
			if c.v.GetBool(verboseKey) {
				logOut = cmd.ErrOrStderr()
			}
			logger := log.New(logOut, "[chatterbox] ", log.LstdFlags)

			c.app, err = newApp(logger, cfg, c.in, c.out)
			return err
		},
	}
	rootCmd.SetIn(c.in)
	rootCmd.SetOut(c.out)
	rootCmd.SetErr(errOut)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.chatterbox.yaml)")
	flags.String(apiURLKey, defaultAPIURL, "base url of the ChatterBox API")
	flags.String(socketURLKey, "", "url of the real-time socket (derived from the api url when empty)")
	flags.String(sessionFileKey, defaultSessionFile(), "file the signed-in session is kept in")
	flags.String(debugAddrKey, "", "address to serve client metrics on, disabled when empty")
	flags.Duration(requestTimeoutKey, config.DefaultRequestTimeout, "timeout for API requests")
	flags.Int(maxReconnectAttemptsKey, config.DefaultMaxReconnectAttempts, "reconnection attempts before giving up")
	flags.Duration(reconnectDelayKey, config.DefaultReconnectDelay, "delay between reconnection attempts")
	flags.Duration(roomPollIntervalKey, config.DefaultRoomPollInterval, "how often room details are refreshed")
	flags.BoolP(verboseKey, "v", false, "log diagnostics to stderr")

	for _, key := range []string{apiURLKey, socketURLKey, sessionFileKey, debugAddrKey, requestTimeoutKey,
		maxReconnectAttemptsKey, reconnectDelayKey, roomPollIntervalKey, verboseKey} {
		c.v.BindPFlag(key, flags.Lookup(key))
	}

	rootCmd.AddCommand(
		c.newLoginCmd(),
		c.newRegisterCmd(),
		c.newLogoutCmd(),
		c.newWhoamiCmd(),
		c.newProfileCmd(),
		c.newRoomsCmd(),
		c.newCreateRoomCmd(),
		c.newLiveCmd(),
		c.newPostCmd(),
		c.newRoomCmd(),
	)

	return rootCmd
}

// initConfig reads the config file and environment. Flags set on the
// command line take precedence over both.
func (c *cli) initConfig() error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		c.v.AddConfigPath(home)
		c.v.SetConfigType("yaml")
		c.v.SetConfigName(".chatterbox")
	}

	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.NewConfig(
		c.v.GetString(apiURLKey),
		c.v.GetString(socketURLKey),
		c.v.GetString(sessionFileKey),
	)
	if err != nil {
		return nil, err
	}

	cfg.DebugAddr = c.v.GetString(debugAddrKey)
	if d := c.v.GetDuration(requestTimeoutKey); d > 0 {
		cfg.RequestTimeout = d
	}
	if n := c.v.GetInt(maxReconnectAttemptsKey); n > 0 {
		cfg.Realtime.MaxReconnectAttempts = n
	}
	if d := c.v.GetDuration(reconnectDelayKey); d > 0 {
		cfg.Realtime.ReconnectDelay = d
	}
	if d := c.v.GetDuration(roomPollIntervalKey); d > 0 {
		cfg.Room.PollInterval = d
	}

	return cfg, nil
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatterbox-session.json"
	}
	return filepath.Join(home, ".chatterbox", "session.json")
}

