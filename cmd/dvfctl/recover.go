package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/GnYaroslav/drone-video-fix/internal/config"
	"github.com/GnYaroslav/drone-video-fix/internal/domain/session"
	"github.com/GnYaroslav/drone-video-fix/internal/notify"
	"github.com/GnYaroslav/drone-video-fix/internal/orchestrator"
)

// progressWidth — ширина полосы прогресса в символах.
const progressWidth = 20

// stepTitles — подписи шагов анимации.
var stepTitles = [...]string{
	"Анализ файла",
	"Восстановление структуры",
	"Восстановление кадров",
	"Финальная проверка",
}

// newOrchestratorConfig подменяется в тестах для ускорения анимации.
var newOrchestratorConfig = orchestrator.DefaultConfig

type recoverOptions struct {
	working  string
	email    string
	telegram string
}

func newRecoverCommand(root *rootOptions) *cobra.Command {
	opts := &recoverOptions{}

	cmd := &cobra.Command{
		Use:   "recover DAMAGED_FILE",
		Short: "Загрузить видео и запустить восстановление",
		Example: `  dvfctl recover flight.mp4 --email pilot@example.com
  dvfctl recover flight.mp4 --working reference.mp4 --telegram @pilot`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(cmd, root, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.working, "working", "w", "", "рабочий файл с той же камеры (необязательно)")
	cmd.Flags().StringVarP(&opts.email, "email", "e", "", "email для связи")
	cmd.Flags().StringVarP(&opts.telegram, "telegram", "t", "", "telegram для связи")

	return cmd
}

func runRecover(cmd *cobra.Command, root *rootOptions, opts *recoverOptions, damagedPath string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	logger := root.logger(cmd)

	contacts := orchestrator.Contacts{Email: opts.email, Telegram: opts.telegram}
	// Контакты проверяются до загрузки, чтобы не гонять файл впустую
	if err := orchestrator.ValidateContacts(contacts); err != nil {
		return err
	}

	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}

	ocfg := newOrchestratorConfig(cfg.MaxFileSize)
	if cfg.TelegramEnabled() {
		ocfg.NotifyTimeout = cfg.NotifyBudget()
	}
	orch := orchestrator.New(root.client(logger), notifier, &progressPrinter{out: out}, ocfg, logger)

	damaged, err := orch.UploadDamaged(ctx, damagedPath)
	if err != nil {
		return fmt.Errorf("повреждённый файл: %w", err)
	}
	fmt.Fprintf(out, "Повреждённый файл загружен: %s (%s)\n", damaged.Key(), humanize.IBytes(uint64(damaged.SizeBytes)))

	if opts.working != "" {
		working, err := orch.UploadWorking(ctx, opts.working)
		if err != nil {
			return fmt.Errorf("рабочий файл: %w", err)
		}
		fmt.Fprintf(out, "Рабочий файл загружен: %s (%s)\n", working.Key(), humanize.IBytes(uint64(working.SizeBytes)))
	}

	result, err := orch.StartRecovery(ctx, contacts)
	if err != nil {
		return fmt.Errorf("заявка: %w", err)
	}

	fmt.Fprintf(out, "Заявка %s принята, ориентировочное время: %s\n", result.RecoveryID, result.EstimatedTime)
	if result.NotifyErr != nil {
		fmt.Fprintln(out, "Не удалось отправить итоговое уведомление оператору, заявка сохранена на сервере")
	}
	return nil
}

// loadClientConfig читает те же переменные окружения, что и сервер:
// лимит размера файла и реквизиты бота для итогового уведомления.
func loadClientConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(); err != nil {
		return nil, err
	}
	return config.Load()
}

func newNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	if !cfg.TelegramEnabled() {
		return notify.NewNoop(logger), nil
	}
	tg, err := notify.NewTelegram(notify.TelegramConfig{
		APIURL:     cfg.TelegramAPIURL,
		Token:      cfg.TelegramBotToken,
		ChatID:     cfg.TelegramChatID,
		Timeout:    cfg.NotifyTimeout,
		MaxRetries: cfg.NotifyMaxRetries,
		Backoff:    cfg.NotifyBackoff,
		MaxBackoff: cfg.NotifyMaxBackoff,
		RateLimit:  cfg.NotifyRate,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("инициализация Telegram: %w", err)
	}
	return tg, nil
}

// progressPrinter выводит состояние сессии и полосу прогресса.
type progressPrinter struct {
	out      io.Writer
	lastStep int
}

func (p *progressPrinter) OnStateChange(state session.State) {
	switch state {
	case session.StateSubmitting:
		fmt.Fprintln(p.out, "Отправка заявки...")
	case session.StateSimulating:
		p.lastStep = -1
	case session.StateCompleted:
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Восстановление завершено")
	}
}

func (p *progressPrinter) OnProgress(pr orchestrator.Progress) {
	if pr.Step != p.lastStep {
		if p.lastStep >= 0 {
			fmt.Fprintln(p.out)
		}
		p.lastStep = pr.Step
	}
	filled := pr.Percent * progressWidth / 100
	fmt.Fprintf(p.out, "\r[%s%s] %3d%% %d/%d %s",
		strings.Repeat("#", filled), strings.Repeat(".", progressWidth-filled),
		pr.Percent, pr.Step+1, len(stepTitles), stepTitles[pr.Step])
}

func (p *progressPrinter) OnCompleted(*orchestrator.Result) {}
