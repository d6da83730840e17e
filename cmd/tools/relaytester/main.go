package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/voice-relay/backend/internal/config"
	"github.com/zhouzirui/voice-relay/backend/internal/logging"
	relaymodel "github.com/zhouzirui/voice-relay/backend/internal/model/relay"
)

type serverMessage struct {
	Type    string `json:"type"`
	Audio   string `json:"audio"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func main() {
	envErr := godotenv.Load()
	logger := logging.Init("relaytester", "debug", "console")
	if envErr != nil {
		logger.Warn().Err(envErr).Msg("无法加载 .env，改用系统环境变量")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("配置加载失败")
	}

	url := flag.String("url", defaultURL(cfg.Server.Addr), "中继 WebSocket 地址")
	personaID := flag.String("persona", "", "人设 ID，留空使用服务端默认")
	audioPath := flag.String("audio", "", "输入音频文件 (PCM16 mono, little-endian)")
	sampleRate := flag.Int("rate", cfg.OpenAI.InputSampleRate, "输入采样率")
	chunk := flag.Duration("chunk", 100*time.Millisecond, "每帧音频时长")
	commit := flag.Bool("commit", false, "发送完音频后手动提交并请求回复")
	outputPath := flag.String("out", "", "合成音频输出路径 (默认根据时间戳生成)")
	timeout := flag.Duration("timeout", 45*time.Second, "整体超时时间")

	flag.Parse()

	if *audioPath == "" {
		flag.Usage()
		logger.Fatal().Msg("请通过 -audio 指定 PCM16 音频文件")
	}
	if *outputPath == "" {
		*outputPath = fmt.Sprintf("relay-output-%d.mp3", time.Now().Unix())
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, logger, *url, *personaID, *audioPath, *sampleRate, *chunk, *commit, *outputPath); err != nil {
		logger.Fatal().Err(err).Msg("测试失败")
	}
}

func defaultURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "ws://" + addr + "/ws"
}

func run(ctx context.Context, logger zerolog.Logger, url, personaID, audioPath string, sampleRate int, chunk time.Duration, commit bool, outputPath string) error {
	pcm, err := os.ReadFile(audioPath)
	if err != nil {
		return fmt.Errorf("读取音频文件失败: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("连接中继失败: %w", err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("创建输出文件失败: %w", err)
	}
	defer out.Close()

	if err := conn.WriteJSON(map[string]string{"type": relaymodel.TypeInit, "persona": personaID}); err != nil {
		return fmt.Errorf("发送 init 失败: %w", err)
	}

	ready := make(chan struct{})
	finished := make(chan error, 1)
	go func() {
		finished <- readLoop(conn, logger, out, ready)
	}()

	select {
	case <-ready:
		logger.Info().Msg("会话已就绪，开始发送音频")
	case err := <-finished:
		return fmt.Errorf("等待 session.ready 时连接结束: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}

	frameBytes := sampleRate * 2 * int(chunk/time.Millisecond) / 1000
	if frameBytes <= 0 {
		frameBytes = 4800
	}
	frames := 0
	for offset := 0; offset < len(pcm); offset += frameBytes {
		end := min(offset+frameBytes, len(pcm))
		msg := map[string]string{
			"type":  "input_audio_buffer.append",
			"audio": base64.StdEncoding.EncodeToString(pcm[offset:end]),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("发送音频失败: %w", err)
		}
		frames++
		time.Sleep(chunk)
	}
	logger.Info().Int("frames", frames).Int("bytes", len(pcm)).Msg("音频发送完成")

	if commit {
		for _, typ := range []string{"input_audio_buffer.commit", "response.create"} {
			if err := conn.WriteJSON(map[string]string{"type": typ}); err != nil {
				return fmt.Errorf("发送 %s 失败: %w", typ, err)
			}
		}
	}

	select {
	case err := <-finished:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return fmt.Errorf("等待 audio.done 超时: %w", ctx.Err())
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	logger.Info().Str("file", outputPath).Msg("合成音频已写入")
	return nil
}

// readLoop 读取服务端消息，直到 audio.done、错误或连接关闭。
func readLoop(conn *websocket.Conn, logger zerolog.Logger, out *os.File, ready chan<- struct{}) error {
	total := 0
	readySeen := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("读取消息失败: %w", err)
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn().Err(err).Msg("无法解析服务端消息")
			continue
		}

		switch msg.Type {
		case relaymodel.TypeSessionReady:
			if !readySeen {
				readySeen = true
				close(ready)
			}
		case relaymodel.TypeAudioDelta:
			audio, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				logger.Warn().Err(err).Msg("音频块解码失败")
				continue
			}
			n, err := out.Write(audio)
			if err != nil {
				return fmt.Errorf("写入音频失败: %w", err)
			}
			total += n
		case relaymodel.TypeAudioDone:
			logger.Info().Int("bytes", total).Msg("收到 audio.done")
			return nil
		case relaymodel.TypeError:
			logger.Error().Str("code", msg.Code).Str("message", msg.Message).Msg("服务端错误")
		default:
			logger.Debug().Str("type", msg.Type).Msg("上游事件")
		}
	}
}
