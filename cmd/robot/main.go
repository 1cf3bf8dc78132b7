package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kropbot/kropbot/internal/auth"
	"github.com/kropbot/kropbot/internal/camera"
	"github.com/kropbot/kropbot/internal/drive"
	"github.com/kropbot/kropbot/internal/robot"
)

func main() {
	serverURL := flag.String("server", "ws://127.0.0.1:8080/robot", "Robot endpoint of the kropbot server")
	secret := flag.String("secret", os.Getenv("ROBOT_WS_SECRET"), "Shared robot secret (default $ROBOT_WS_SECRET)")
	fps := flag.Int("fps", camera.DefaultFPS, "Camera frames per second")
	width := flag.Int("width", camera.DefaultWidth, "Frame width")
	height := flag.Int("height", camera.DefaultHeight, "Frame height")
	quality := flag.Int("quality", camera.DefaultQuality, "JPEG quality (1-100)")
	telemetryInterval := flag.Duration("telemetry", 2*time.Second, "Telemetry interval (0 disables)")
	flag.Parse()

	if *secret == "" {
		log.Fatal("A robot secret is required (--secret or ROBOT_WS_SECRET)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	src := camera.NewSynthetic(*width, *height, *quality)
	defer src.Close()

	agent, err := robot.NewAgent(robot.Config{
		URL:               *serverURL,
		Secret:            *secret,
		FPS:               *fps,
		TelemetryInterval: *telemetryInterval,
		TokenTTL:          auth.DefaultTTL,
	}, src, drive.NewLogMotors())
	if err != nil {
		log.Fatalf("Failed to create robot agent: %v", err)
	}

	log.Printf("robot: streaming to %s at %d fps", *serverURL, *fps)
	if err := agent.Run(ctx); err != nil {
		log.Fatalf("robot: %v", err)
	}
	log.Println("robot: stopped")
}
