package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lisuiheng/callguard-go/audio"
	"github.com/lisuiheng/callguard-go/core"
	"github.com/lisuiheng/callguard-go/logger"
	"github.com/lisuiheng/callguard-go/pkg/interfaces"
	"github.com/lisuiheng/callguard-go/telephony"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	configPath string
	debug      bool

	scriptPath string
	demoNumber string
	ringFor    time.Duration
	talkFor    time.Duration
	linger     time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "callguard",
	Short: "Call audio capture for voice fraud detection",
	Long: `callguard watches call state signals, captures call audio while a call is
active and hands fixed-length windows to an external analyzer.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Monitor calls, reading call state lines from stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		defer logger.Close()

		src := telephony.NewSource(logger.Logger())
		return serve(cmd.Context(), cfg, src, func(ctx context.Context) error {
			if err := src.Feed(ctx, os.Stdin); err != nil {
				return err
			}
			// 输入结束后继续运行，直到收到退出信号
			logger.Info("Call state input closed")
			<-ctx.Done()
			return nil
		}, false)
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated call through the capture pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := telephony.DemoCall(demoNumber, ringFor, talkFor)
		if scriptPath != "" {
			f, err := os.Open(scriptPath)
			if err != nil {
				return fmt.Errorf("open script: %w", err)
			}
			defer f.Close()
			if steps, err = telephony.ParseScript(f); err != nil {
				return err
			}
		}
		cfg, err := setup()
		if err != nil {
			return err
		}
		defer logger.Close()

		sim := telephony.NewSimulator(steps, logger.Logger())
		return serve(cmd.Context(), cfg, sim, func(ctx context.Context) error {
			if err := sim.Run(ctx); err != nil {
				return err
			}
			// 给最后一个窗口的分析留出时间
			select {
			case <-ctx.Done():
			case <-time.After(linger):
			}
			return nil
		}, true)
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check which audio sources can be opened on this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		return probe()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("callguard v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default searches ./config.yaml, ./config/config.yaml, /etc/callguard/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging to stdout")

	simulateCmd.Flags().StringVar(&scriptPath, "script", "", "call state script, one step per line")
	simulateCmd.Flags().StringVar(&demoNumber, "number", "555-0100", "caller number for the demo call")
	simulateCmd.Flags().DurationVar(&ringFor, "ring", 2*time.Second, "how long the demo call rings")
	simulateCmd.Flags().DurationVar(&talkFor, "talk", 12*time.Second, "how long the demo call lasts")
	simulateCmd.Flags().DurationVar(&linger, "linger", 3*time.Second, "wait for pending analysis after the script ends")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	// 设置信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// setup 加载配置并初始化日志
func setup() (core.Config, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return core.Config{}, err
	}
	if err := initLogger(cfg); err != nil {
		return core.Config{}, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg core.Config, source interfaces.TelephonySource, drive func(context.Context) error, stopWhenDone bool) error {
	a, err := newApp(cfg, source, logger.Logger())
	if err != nil {
		return err
	}

	logger.Info("Starting callguard", "version", version, "prefer_direct", cfg.Monitor.PreferDirect)
	defer logger.Info("Shutting down callguard")
	return a.run(ctx, drive, stopWhenDone)
}

func probe() error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	speaker := audio.NewSpeakerSwitch(nil, logger.Logger())
	negotiator, err := newNegotiator(cfg, interfaces.Discard, speaker, logger.Logger())
	if err != nil {
		return err
	}

	f := negotiator.Format()
	fmt.Printf("format: %d Hz, %d channel(s)\n", f.SampleRate, f.Channels)
	for _, src := range []audio.Source{audio.SourceVoiceCall, audio.SourceVoiceCommunication, audio.SourceMic} {
		if err := negotiator.Probe(src); err != nil {
			fmt.Printf("%-20s unavailable (%v)\n", src, err)
			continue
		}
		fmt.Printf("%-20s ok\n", src)
	}
	fmt.Printf("direct call audio: %v\n", negotiator.ProbeDirect() && cfg.Capabilities.DirectAudio)
	return nil
}
