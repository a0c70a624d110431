package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-insight/backend/internal/app"
	"github.com/zhouzirui/z-insight/backend/internal/config"
	pipemodel "github.com/zhouzirui/z-insight/backend/internal/model/pipeline"
	"github.com/zhouzirui/z-insight/backend/internal/model/speech"
	"github.com/zhouzirui/z-insight/backend/internal/pipeline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	texts    []string
	audio    string
	format   string
	language string
	timeout  time.Duration
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pipelinetester",
		Short:         "本地运行分析流水线并输出 NDJSON 事件",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if err := godotenv.Load(); err != nil {
				log.Debug().Err(err).Msg("无法加载 .env，改用系统环境变量")
			}
			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
		},
	}
	root.AddCommand(newAnalyzeCmd(), newTranscribeCmd())
	return root
}

func newAnalyzeCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "分析一段或多段文本（同一会话内依次提交），或一个音频文件",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalyze(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&opts.texts, "text", nil, "文本输入，可重复，按顺序提交到同一会话")
	f.StringVar(&opts.audio, "audio", "", "音频文件路径")
	f.StringVar(&opts.format, "format", "", "音频格式，默认按扩展名推断")
	f.StringVar(&opts.language, "lang", "", "语言代码")
	f.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "整体超时时间")
	return cmd
}

func newTranscribeCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "transcribe",
		Short: "只调用语音识别",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTranscribe(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.audio, "audio", "", "音频文件路径")
	f.StringVar(&opts.format, "format", "", "音频格式，默认按扩展名推断")
	f.StringVar(&opts.language, "lang", "", "语言代码")
	f.DurationVar(&opts.timeout, "timeout", 45*time.Second, "请求超时时间")
	_ = cmd.MarkFlagRequired("audio")
	return cmd
}

func build(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("配置加载失败: %w", err)
	}
	return app.Build(ctx, cfg)
}

func runAnalyze(ctx context.Context, out io.Writer, opts *options) error {
	samples, err := opts.samples()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	a, err := build(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	enc := json.NewEncoder(out)
	emit := pipeline.EmitterFunc(func(_ context.Context, ev pipemodel.Event) error {
		return enc.Encode(ev)
	})

	sessionID := a.Sessions.ResolveOrCreate("")
	log.Info().Str("session", sessionID).Int("submissions", len(samples)).Msg("starting")
	for i, sample := range samples {
		if _, err := a.Orchestrator.Run(ctx, pipeline.Input{SessionID: sessionID, Sample: sample}, emit); err != nil {
			return fmt.Errorf("submission %d: %w", i+1, err)
		}
	}
	return nil
}

func runTranscribe(ctx context.Context, out io.Writer, opts *options) error {
	samples, err := opts.samples()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	a, err := build(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if !a.Registry.CanTranscribe() {
		return fmt.Errorf("语音识别未配置，请设置 SPEECH_* 或 ASR_URL")
	}

	s := samples[0]
	quality, err := a.Quality.Assess(ctx, s)
	if err != nil {
		return err
	}
	log.Info().Float64("score", quality.Score).Bool("usable", quality.Usable).Int64("duration_ms", quality.DurationMS).Msg("audio quality")

	resp, err := a.Speech.TranscribeBuffer(ctx, fmt.Sprintf("cli-%d", time.Now().UnixNano()), s.Audio, s.Format, s.Language)
	if err != nil {
		return err
	}
	return json.NewEncoder(out).Encode(resp)
}

func (o *options) samples() ([]speech.Sample, error) {
	if o.audio != "" {
		data, err := os.ReadFile(o.audio)
		if err != nil {
			return nil, fmt.Errorf("读取音频失败: %w", err)
		}
		format := o.format
		if format == "" {
			format = strings.TrimPrefix(strings.ToLower(filepath.Ext(o.audio)), ".")
		}
		return []speech.Sample{{Audio: data, Format: format, Language: o.language}}, nil
	}
	if len(o.texts) == 0 {
		return nil, fmt.Errorf("请通过 --text 或 --audio 提供输入")
	}
	samples := make([]speech.Sample, 0, len(o.texts))
	for _, t := range o.texts {
		samples = append(samples, speech.Sample{Text: t, Language: o.language})
	}
	return samples, nil
}
