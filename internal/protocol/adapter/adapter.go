package adapter

// Adapter 统一协议适配器接口：用于链路/监听器绑定
// 要求：
// - Sniff 用于首包初判，连接上第一批字节不符合时记录告警
// - ProcessBytes 处理来自链路的原始字节流（内部负责半包/粘包与重同步）
// - Reset 丢弃未完成的半帧（例如链路读超时后）
type Adapter interface {
	Sniff(prefix []byte) bool
	ProcessBytes(p []byte) error
	Reset()
}
