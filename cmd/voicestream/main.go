// Command voicestream streams the microphone to a realtime session and shows
// the live transcript in the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/audio/miniaudio"
	"github.com/koscakluka/ema-realtime/core/audio/portaudio"
	"github.com/koscakluka/ema-realtime/core/bootstrap"
	"github.com/koscakluka/ema-realtime/core/capture"
	"github.com/koscakluka/ema-realtime/core/playback"
	"github.com/koscakluka/ema-realtime/core/protocol"
	"github.com/koscakluka/ema-realtime/core/recording"
	"github.com/koscakluka/ema-realtime/core/session"
	"github.com/koscakluka/ema-realtime/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	printSchema := flag.Bool("schema", false, "print the config file JSON schema and exit")
	flag.Parse()

	if *printSchema {
		schema, err := config.Schema()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(schema))
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	audioClient, err := miniaudio.NewClient()
	if err != nil {
		return err
	}
	defer audioClient.Close()

	var captureDevice capture.Device = audioClient.CaptureDevice()
	if cfg.Audio.Backend == "portaudio" {
		captureDevice = portaudio.NewCaptureDevice(0)
	}
	mic := capture.NewEngine(captureDevice, capture.WithQueueSize(cfg.Audio.CaptureQueueSize))

	// The orchestrator is built after playback but receives its energy.
	var orchestratorRef atomic.Pointer[session.Orchestrator]
	player := playback.NewEngine(audioClient.PlaybackDevice(),
		playback.WithCapacity(cfg.Audio.PlaybackCapacity),
		playback.WithEnergyHandler(func(energy float64) {
			if orchestrator := orchestratorRef.Load(); orchestrator != nil {
				orchestrator.ObserveOutputLevel(energy)
			}
		}),
	)
	defer player.Close()

	conn := protocol.NewClient(protocol.WebsocketDialer{Dialer: websocket.DefaultDialer})
	defer conn.Close()

	opts := []session.OrchestratorOption{
		session.WithPlayback(player),
		session.WithEndpoint(cfg.Session.Endpoint),
		session.WithReadyTimeout(cfg.Session.ReadyTimeout()),
		session.WithStopGrace(cfg.Session.StopGrace()),
		session.WithMinCommitDuration(cfg.Session.MinCommit()),
		session.WithCaptureSampleRate(mic.TargetSampleRate()),
	}
	if sessionOptions, ok := sessionOptionsFrom(cfg.Session); ok {
		opts = append(opts, session.WithSessionUpdate(sessionOptions))
	}
	if cfg.Recording.Path != "" {
		recorder, err := recording.Create(cfg.Recording.Path, audio.CaptureSampleRate)
		if err != nil {
			return err
		}
		defer recorder.Close()
		opts = append(opts, session.WithSampleSink(recorder))
	}

	orchestrator := session.New(newBootstrapper(cfg.Bootstrap), mic, conn, opts...)
	orchestratorRef.Store(orchestrator)
	defer orchestrator.Close()

	program := tea.NewProgram(newModel(ctx, orchestrator), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

func newBootstrapper(cfg config.BootstrapConfig) session.Bootstrapper {
	if cfg.Token != "" {
		return bootstrap.Static(session.Config{
			Token: cfg.Token,
			Model: cfg.Model,
			Type:  session.Type(cfg.Type),
		})
	}

	return bootstrap.Coalesce(
		bootstrap.NewHTTPClient(cfg.URL,
			bootstrap.WithAPIKey(cfg.APIKey),
			bootstrap.WithRequestedSession(cfg.Model, session.Type(cfg.Type)),
		),
		cfg.Cooldown(),
	)
}

func sessionOptionsFrom(cfg config.SessionConfig) (session.SessionOptions, bool) {
	if cfg.Instructions == "" && cfg.Voice == "" && cfg.TranscriptionModel == "" && cfg.TurnDetection == "" {
		return session.SessionOptions{}, false
	}

	return session.SessionOptions{
		Instructions:          cfg.Instructions,
		Voice:                 cfg.Voice,
		InputAudioFormat:      "pcm16",
		OutputAudioFormat:     "pcm16",
		TranscriptionModel:    cfg.TranscriptionModel,
		TranscriptionLanguage: cfg.Language,
		TurnDetectionMode:     cfg.TurnDetection,
	}, true
}
