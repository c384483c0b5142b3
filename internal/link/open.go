package link

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.bug.st/serial"

	cfgpkg "github.com/badgecmd/badgebus/internal/config"
)

// OpenSerial 打开本地串口：8N1，RTS 拉低（部分板子 RTS 接复位脚）
func OpenSerial(device string, baud int, readTimeout time.Duration) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	// 部分 USB CDC 驱动不支持控制线，忽略错误
	_ = port.SetRTS(false)
	if readTimeout > 0 {
		if err := port.SetReadTimeout(readTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
	}
	return port, nil
}

// DialTCP 连接串口服务器（ser2net 等透传设备）
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// Open 按配置打开主动链路（serial / tcp），返回连接与展示用名称。
// listen 模式由 tcpserver 处理。
func Open(ctx context.Context, cfg cfgpkg.LinkConfig) (io.ReadWriteCloser, string, error) {
	switch cfg.Mode {
	case cfgpkg.LinkModeSerial:
		port, err := OpenSerial(cfg.Device, cfg.Baud, cfg.ReadTimeout)
		if err != nil {
			return nil, "", err
		}
		return port, cfg.Device, nil
	case cfgpkg.LinkModeTCP:
		conn, err := DialTCP(ctx, cfg.Addr, cfg.DialTimeout)
		if err != nil {
			return nil, "", err
		}
		return conn, conn.RemoteAddr().String(), nil
	default:
		return nil, "", fmt.Errorf("link mode %q cannot be opened directly", cfg.Mode)
	}
}

// OptionsFromConfig 链路配置转运行参数
func OptionsFromConfig(cfg cfgpkg.LinkConfig) Options {
	return Options{
		ForceChecksum: cfg.ForceChecksum,
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		ReplyTimeout:  cfg.ReplyTimeout,
		TxRate:        cfg.TxRate,
		TxBurst:       cfg.TxBurst,
	}
}
