package audio

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hraban/opus"
)

// OpusEncoder OPUS音频编码器，用于把窗口压缩后发给远端分析器
type OpusEncoder struct {
	encoder       *opus.Encoder
	sampleRate    int
	channels      int
	frameDuration int // 毫秒
	logger        *slog.Logger
}

// NewOpusEncoder sampleRate 必须是 Opus 支持的 8000/12000/16000/24000/48000
func NewOpusEncoder(sampleRate, channels, bitrate, frameDuration int, logger *slog.Logger) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("failed to set bitrate: %w", err)
	}

	return &OpusEncoder{
		encoder:       enc,
		sampleRate:    sampleRate,
		channels:      channels,
		frameDuration: frameDuration,
		logger:        logger,
	}, nil
}

func (e *OpusEncoder) SampleRate() int { return e.sampleRate }

// FrameSize 每帧的采样数（含所有声道）
func (e *OpusEncoder) FrameSize() int {
	return e.sampleRate * e.frameDuration / 1000 * e.channels
}

// Encode 编码一帧PCM
func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	if e.encoder == nil {
		return nil, errors.New("encoder not initialized")
	}

	data := make([]byte, 4000) // OPUS最大包大小
	n, err := e.encoder.Encode(pcm, data)
	if err != nil {
		return nil, fmt.Errorf("opus encode failed: %w", err)
	}

	return data[:n], nil
}

// EncodeAll 按帧切分编码，最后不足一帧的部分补零
func (e *OpusEncoder) EncodeAll(pcm []int16) ([][]byte, error) {
	size := e.FrameSize()
	if size <= 0 {
		return nil, fmt.Errorf("invalid frame size: %d", size)
	}

	packets := make([][]byte, 0, len(pcm)/size+1)
	for off := 0; off < len(pcm); off += size {
		frame := pcm[off:min(off+size, len(pcm))]
		if len(frame) < size {
			padded := make([]int16, size)
			copy(padded, frame)
			frame = padded
		}
		pkt, err := e.Encode(frame)
		if err != nil {
			return nil, err
		}
		packets = append(packets, pkt)
	}
	return packets, nil
}

// Close 释放编码器资源
func (e *OpusEncoder) Close() {
	if e.encoder != nil {
		e.encoder = nil
	}
}
