package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/GnYaroslav/drone-video-fix/internal/client"
)

// rootOptions — общие флаги всех команд.
type rootOptions struct {
	server  string
	lang    string
	token   string
	timeout time.Duration
	verbose bool
}

func (o *rootOptions) client(logger *slog.Logger) *client.Client {
	return client.New(o.server, client.Options{
		Timeout: o.timeout,
		Lang:    o.lang,
		Token:   o.token,
	}, logger)
}

func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// NewRootCommand возвращает корневую команду со всеми подкомандами.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "dvfctl",
		Short: "Клиент сервиса восстановления видео с дронов.",
		Long: `dvfctl загружает повреждённое видео (и, при наличии, рабочий эталон)
на сервер drone-video-fix, регистрирует заявку на восстановление и
показывает прогресс. Операторские команды требуют Bearer-токен.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.server, "server", "s", envDefault("DVF_SERVER_URL", "http://localhost:3000"), "адрес сервера drone-video-fix")
	flags.StringVar(&opts.lang, "lang", envDefault("DVF_LANG", "ru"), "язык сообщений сервера (ru, en)")
	flags.StringVar(&opts.token, "token", os.Getenv("DVF_OPERATOR_TOKEN"), "Bearer-токен оператора")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "таймаут запросов без файлов")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "подробный лог")

	rootCmd.AddCommand(newRecoverCommand(opts))
	rootCmd.AddCommand(newStatusCommand(opts))
	rootCmd.AddCommand(newFilesCommand(opts))

	return rootCmd
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
