package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"VitalsAI/go-backend/internal/handlers"
	"VitalsAI/go-backend/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var httpURL, grpcAddr string

	root := &cobra.Command{
		Use:           "vitals-probe",
		Short:         "Smoke client for a running vitals server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&httpURL, "http", "http://localhost:8081", "server HTTP base URL")
	root.PersistentFlags().StringVar(&grpcAddr, "grpc", "localhost:50051", "server gRPC address")

	root.AddCommand(newHealthCmd(&httpURL))
	root.AddCommand(newSessionCmd(&httpURL))
	root.AddCommand(newStatusCmd(&grpcAddr))
	return root
}

func newHealthCmd(httpURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print /api/health and /api/metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := resty.New().SetBaseURL(*httpURL).SetTimeout(5 * time.Second)
			for _, path := range []string{"/api/health", "/api/metrics"} {
				resp, err := client.R().SetContext(cmd.Context()).Get(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if resp.IsError() {
					return fmt.Errorf("%s: status %d", path, resp.StatusCode())
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", path, resp.String())
			}
			return nil
		},
	}
}

func newSessionCmd(httpURL *string) *cobra.Command {
	var (
		sessionID string
		frames    int
		interval  time.Duration
		symptom   string
	)
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run a short monitoring session over the websocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			frame, err := generateTestImage()
			if err != nil {
				return fmt.Errorf("generate test image: %w", err)
			}
			return runSession(cmd.Context(), cmd.OutOrStdout(), *httpURL, sessionID, frame, frames, interval, symptom)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session-id", "", "session id (generated by the server when empty)")
	cmd.Flags().IntVar(&frames, "frames", 20, "number of frames to send")
	cmd.Flags().DurationVar(&interval, "interval", 200*time.Millisecond, "delay between frames")
	cmd.Flags().StringVar(&symptom, "symptom", "", "symptom text to report before stopping")
	return cmd
}

func runSession(ctx context.Context, out io.Writer, httpURL, sessionID string, frame []byte, frames int, interval time.Duration, symptom string) error {
	wsURL, err := websocketURL(httpURL, sessionID)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	stopped := make(chan string, 1)
	go func() {
		defer close(stopped)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_, _ = fmt.Fprintf(out, "<- %s\n", data)
			var ev struct {
				Type      string `json:"type"`
				SessionID string `json:"session_id"`
			}
			if json.Unmarshal(data, &ev) == nil && ev.Type == string(models.EventAgentStopped) {
				stopped <- ev.SessionID
				return
			}
		}
	}()

	send := func(v any) error {
		_, _ = fmt.Fprintf(out, "-> %v\n", v)
		return conn.WriteJSON(v)
	}

	if err := send(map[string]string{"type": models.CommandStartAgent, "call_type": "probe", "call_id": "probe"}); err != nil {
		return err
	}
	if err := send(map[string]string{"type": models.CommandSkipAnthropometrics}); err != nil {
		return err
	}
	for i := 0; i < frames; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return fmt.Errorf("send frame %d: %w", i, err)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if symptom != "" {
		if err := send(map[string]string{"type": models.CommandReportSymptom, "text": symptom}); err != nil {
			return err
		}
	}
	if err := send(map[string]string{"type": models.CommandStopAgent}); err != nil {
		return err
	}

	select {
	case id, ok := <-stopped:
		if !ok || id == "" {
			return fmt.Errorf("connection closed before agent_stopped")
		}
		return printReport(ctx, out, httpURL, id)
	case <-time.After(15 * time.Second):
		return fmt.Errorf("timed out waiting for agent_stopped")
	}
}

func printReport(ctx context.Context, out io.Writer, httpURL, id string) error {
	resp, err := resty.New().SetBaseURL(httpURL).SetTimeout(5*time.Second).R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"session_id": id, "format": "json"}).
		Get("/api/agent/report")
	if err != nil {
		return fmt.Errorf("fetch report: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fetch report: status %d: %s", resp.StatusCode(), resp.String())
	}
	_, _ = fmt.Fprintf(out, "report %s\n", resp.String())
	return nil
}

func websocketURL(httpURL, sessionID string) (string, error) {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", httpURL, err)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	if sessionID != "" {
		u.RawQuery = url.Values{"sessionId": {sessionID}}.Encode()
	}
	return u.String(), nil
}

func newStatusCmd(grpcAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Query a session through the gRPC Monitor service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			st, err := handlers.SessionStatus(ctx, conn, args[0])
			if err != nil {
				return err
			}
			data, err := protojson.Marshal(st)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

// generateTestImage draws a small face-coloured JPEG. The estimator decides
// what it sees; the probe only needs a decodable frame.
func generateTestImage() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 160, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			img.Set(x, y, color.RGBA{R: 224, G: 172, B: uint8(105 + x%32), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
