package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	anonymousVotes bool
	answerTimeout  time.Duration
	bind           string
	openaiAPIKey   string
	openaiBaseURL  string
	openaiModel    string
	playerTimeout  time.Duration
	port           int
	prefix         string
	profile        bool
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.answerTimeout <= 0 {
		return fmt.Errorf("invalid answer timeout (must be positive): %s", c.answerTimeout)
	}
	if c.playerTimeout < 0 || c.sessionTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.openaiBaseURL != "" {
		if _, err := url.ParseRequestURI(c.openaiBaseURL); err != nil {
			return fmt.Errorf("invalid --openai-base-url: %w", err)
		}
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BOTORNOT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "botornot",
		Short:         "A party game where players try to spot the machine-written answer.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.BoolVar(&cfg.anonymousVotes, "anonymous-votes", false, "hide who voted for which answer (env: BOTORNOT_ANONYMOUS_VOTES)")
	fs.DurationVar(&cfg.answerTimeout, "answer-timeout", 10*time.Second, "time to wait for a generated answer before using a fallback (env: BOTORNOT_ANSWER_TIMEOUT)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: BOTORNOT_BIND)")
	fs.StringVar(&cfg.openaiAPIKey, "openai-api-key", "", "api key for generated answers; canned answers are used if unset (env: BOTORNOT_OPENAI_API_KEY)")
	fs.StringVar(&cfg.openaiBaseURL, "openai-base-url", "", "base url of an openai-compatible api (env: BOTORNOT_OPENAI_BASE_URL)")
	fs.StringVar(&cfg.openaiModel, "openai-model", "gpt-4o-mini", "chat model used for generated answers (env: BOTORNOT_OPENAI_MODEL)")
	fs.DurationVar(&cfg.playerTimeout, "player-timeout", 10*time.Minute, "time before disconnected players are removed, 0 to disable (env: BOTORNOT_PLAYER_TIMEOUT)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: BOTORNOT_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: BOTORNOT_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: BOTORNOT_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle rooms are closed, 0 to disable (env: BOTORNOT_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: BOTORNOT_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: BOTORNOT_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: BOTORNOT_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: BOTORNOT_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("botornot v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
