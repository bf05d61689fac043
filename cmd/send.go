package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"vocebridge/pkg/bus"
	"vocebridge/pkg/channel/vocechat"
	"vocebridge/pkg/config"
	"vocebridge/pkg/logger"
	"vocebridge/pkg/message"

	"github.com/spf13/cobra"
)

var (
	sendTarget string
	sendText   string
	sendImage  string
)

// sendCmd delivers one message through the VoceChat API without running the
// gateway. Useful for smoke-testing credentials and routing.
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one message to a VoceChat user or group",
	Long:  "Loads VoceBridge configuration and sends a single message to a target like user:42 or group:7.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		if strings.TrimSpace(sendText) == "" && strings.TrimSpace(sendImage) == "" {
			fmt.Println("nothing to send: provide --text or --image")
			return
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.send")

		if _, err := message.ParseTarget(sendTarget); err != nil {
			fmt.Printf("invalid target %q: %v\n", sendTarget, err)
			return
		}

		out := bus.OutboundMessage{
			Channel: "vocechat",
			ChatID:  sendTarget,
			Content: sendText,
		}

		if sendImage != "" {
			mediaEntry, err := imageDataURL(sendImage)
			if err != nil {
				fmt.Printf("failed to read image: %v\n", err)
				return
			}
			out.Media = append(out.Media, mediaEntry)
		}

		adapter := vocechat.NewAdapter(cfg.Channels.VoceChat, log)
		if err := adapter.Send(context.Background(), out); err != nil {
			fmt.Printf("send failed: %v\n", err)
			return
		}

		fmt.Println("sent")
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendTarget, "target", "t", "", "target chat id, user:<id> or group:<id>")
	sendCmd.Flags().StringVar(&sendText, "text", "", "message text to send")
	sendCmd.Flags().StringVar(&sendImage, "image", "", "path to an image file to send")
	_ = sendCmd.MarkFlagRequired("target")
}

// imageDataURL reads a local image file into a data: URL media entry.
func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/png"
	}

	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
